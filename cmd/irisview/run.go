package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"github.com/esimov/irisview"
	"github.com/esimov/irisview/classifier"
	"github.com/esimov/irisview/cv"
	"github.com/esimov/irisview/headless"
	"github.com/esimov/irisview/landmark"
	"github.com/esimov/irisview/model"
	"github.com/esimov/irisview/notify"
	"github.com/esimov/irisview/preview"
	"github.com/esimov/irisview/utils"
	"github.com/spf13/cobra"
)

const (
	pigoTracker     = "pigo"
	facemeshTracker = "facemesh"
)

// runOptions are the flags of the run command.
type runOptions struct {
	device           string
	tracker          string
	faceCascade      string
	puplocCascade    string
	python           string
	facemeshScript   string
	model            string
	modelConfig      string
	preprocess       string
	threshold        float64
	interval         time.Duration
	cropFace         bool
	width            int
	height           int
	snapshots        string
	snapshotFormat   string
	snapshotInterval time.Duration
	mqttBroker       string
	mqttTopic        string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track the iris on the camera stream and classify the eyewear",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.device, "device", "", "Capture device (default: first available)")
	f.StringVar(&runOpts.tracker, "tracker", pigoTracker, "Landmark model: pigo or facemesh")
	f.StringVar(&runOpts.faceCascade, "face-cascade", "cascade/facefinder", "Pigo face cascade file or URL")
	f.StringVar(&runOpts.puplocCascade, "puploc-cascade", "cascade/puploc", "Pigo pupil localization cascade file or URL")
	f.StringVar(&runOpts.python, "python", "python3", "Python interpreter running the facemesh worker")
	f.StringVar(&runOpts.facemeshScript, "facemesh-script", "python/facemesh_worker.py", "FaceMesh worker script")
	f.StringVar(&runOpts.model, "model", "", "Eyewear classification model file or URL (disables classification when empty)")
	f.StringVar(&runOpts.modelConfig, "model-config", "", "Optional classification model configuration")
	f.StringVar(&runOpts.preprocess, "preprocess", "none", "Preprocessing filter: none, grayscale, blur or grayscale-blur")
	f.Float64Var(&runOpts.threshold, "openness-threshold", irisview.DefaultOpennessThreshold, "Eye openness above which the iris is visible")
	f.DurationVar(&runOpts.interval, "classify-interval", irisview.DefaultClassifyInterval, "Minimum delay between two classifications")
	f.BoolVar(&runOpts.cropFace, "crop-face", false, "Classify the face region only")
	f.IntVar(&runOpts.width, "width", 1080, "Ideal capture width")
	f.IntVar(&runOpts.height, "height", 1920, "Ideal capture height")
	f.StringVar(&runOpts.snapshots, "snapshots", "", "Run without a window, writing annotated snapshots into this directory")
	f.StringVar(&runOpts.snapshotFormat, "snapshot-format", "png", "Snapshot format: png or bmp")
	f.DurationVar(&runOpts.snapshotInterval, "snapshot-interval", time.Second, "Delay between two snapshots")
	f.StringVar(&runOpts.mqttBroker, "mqtt", "", "MQTT broker receiving the status updates")
	f.StringVar(&runOpts.mqttTopic, "mqtt-topic", notify.DefaultTopic, "MQTT topic prefix")

	rootCmd.AddCommand(runCmd)
}

// newLandmarkModel returns the landmark model selected by the tracker flag.
func newLandmarkModel(opts runOptions, logger *log.Logger) (irisview.LandmarkModel, error) {
	switch opts.tracker {
	case pigoTracker:
		p := landmark.NewPigo(opts.faceCascade, opts.puplocCascade)
		p.Logger = logger
		p.OnProgress = model.Tee(model.NewProgressBar(os.Stderr, "loading cascades"), model.LogProgress(logger))
		return p, nil
	case facemeshTracker:
		m := landmark.NewFaceMesh(opts.facemeshScript)
		m.Python = opts.python
		m.Logger = logger
		return m, nil
	}
	return nil, fmt.Errorf("unknown tracker %q", opts.tracker)
}

func runPipeline(ctx context.Context, opts runOptions) error {
	logger := newLogger()

	landmarks, err := newLandmarkModel(opts, logger)
	if err != nil {
		return err
	}

	var cls irisview.Classifier
	if opts.model != "" {
		filter, err := preprocessFilter(opts.preprocess)
		if err != nil {
			return err
		}
		a := classifier.New(cv.LoadGraph(opts.model, opts.modelConfig))
		a.Preprocess = filter
		a.Logger = logger
		a.OnProgress = model.Tee(model.NewProgressBar(os.Stderr, "loading eyewear model"), model.LogProgress(logger))
		cls = a
	}

	cam := cv.NewWebcam()
	cam.Logger = logger

	var (
		display irisview.Display
		window  *preview.Window
	)
	if opts.snapshots != "" {
		rec, err := headless.NewRecorder(opts.snapshots, opts.snapshotFormat, opts.snapshotInterval)
		if err != nil {
			return err
		}
		rec.Logger = logger
		display = rec
	} else {
		window = preview.NewWindow("irisview", opts.width, opts.height)
		display = window
	}

	cfg := irisview.DefaultConfig()
	cfg.OpennessThreshold = opts.threshold
	cfg.ClassifyInterval = opts.interval
	cfg.CropFace = opts.cropFace
	cfg.Constraints.IdealWidth = opts.width
	cfg.Constraints.IdealHeight = opts.height

	p := irisview.New(irisview.Options{
		Camera:     cam,
		Display:    display,
		Landmarks:  landmarks,
		Classifier: cls,
		Config:     cfg,
		Logger:     logger,
	})

	spinner := utils.NewSpinner(utils.StatusLine("initializing...", utils.DefaultMessage), 200*time.Millisecond, true)
	spinner.Start()
	err = p.Initialize(ctx)
	spinner.Stop()
	if err != nil {
		p.Close()
		return err
	}
	reportModels(p.Status())

	if opts.device != "" {
		if err := p.SelectDevice(ctx, opts.device); err != nil {
			p.Close()
			return err
		}
	}

	if opts.mqttBroker != "" {
		n := notify.NewMQTT(opts.mqttBroker)
		n.Topic = opts.mqttTopic
		n.Logger = logger
		if err := n.Connect(ctx); err != nil {
			p.Close()
			return err
		}
		defer n.Close()

		updates, cancel := p.Subscribe(16)
		defer cancel()
		go n.Run(ctx, updates)
		log.Println(utils.StatusLine("publishing status on "+notify.StatusTopic(n.Topic, n.ClientID), utils.DefaultMessage))
	}

	if err := p.StartCamera(ctx); err != nil {
		p.Close()
		return err
	}
	log.Println(utils.StatusLine("capturing from "+p.DeviceID(), utils.SuccessMessage))

	if window == nil {
		<-ctx.Done()
		return shutdown(p)
	}

	// The window event loop runs aside while the main goroutine serves Gio.
	go func() {
		err := window.Run(ctx)
		if cerr := shutdown(p); err == nil {
			err = cerr
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Println(utils.StatusLine(err.Error(), utils.ErrorMessage))
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()

	return nil
}

func shutdown(p *irisview.Pipeline) error {
	err := p.Close()
	log.Println(utils.StatusLine("capture stopped", utils.DefaultMessage))
	return err
}

// reportModels prints the load outcome of both models.
func reportModels(s irisview.Status) {
	for _, m := range []struct {
		name  string
		state model.State
		err   string
	}{
		{"landmark model", s.Tracking, s.TrackingError},
		{"eyewear model", s.Classification, s.ClassificationError},
	} {
		switch m.state {
		case model.Ready:
			log.Println(utils.StatusLine(fmt.Sprintf("%s: %s", m.name, irisview.ModelLoadDoneText), utils.SuccessMessage))
		case model.Failed:
			log.Println(utils.StatusLine(fmt.Sprintf("%s: %s: %s", m.name, irisview.ModelLoadErrorText, m.err), utils.ErrorMessage))
		default:
			log.Println(utils.StatusLine(m.name+": disabled", utils.DefaultMessage))
		}
	}
}
