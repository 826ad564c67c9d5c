package main

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"
	"time"

	"github.com/esimov/irisview"
	"github.com/esimov/irisview/classifier"
	"github.com/esimov/irisview/cv"
	"github.com/esimov/irisview/model"
	"github.com/esimov/irisview/utils"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	"golang.org/x/term"
)

// pipeName is the file name that indicates stdin is being used.
const pipeName = "-"

var classifyOpts struct {
	model       string
	modelConfig string
	preprocess  string
}

var classifyCmd = &cobra.Command{
	Use:   "classify [image]",
	Short: "Classify the eyewear on a single image",
	Long:  "Classify the eyewear on a jpeg, png or bmp image. The image is read from stdin when omitted or set to '-'.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := pipeName
		if len(args) == 1 {
			src = args[0]
		}
		if classifyOpts.model == "" {
			return errors.New("a classification model is required (--model)")
		}

		filter, err := preprocessFilter(classifyOpts.preprocess)
		if err != nil {
			return err
		}
		img, err := readImage(src, os.Stdin)
		if err != nil {
			return err
		}

		a := classifier.New(cv.LoadGraph(classifyOpts.model, classifyOpts.modelConfig))
		a.Preprocess = filter
		a.Logger = newLogger()
		a.OnProgress = model.NewProgressBar(os.Stderr, "loading eyewear model")
		defer a.Close()

		if err := a.Load(cmd.Context()); err != nil {
			return fmt.Errorf("%s: %w", irisview.ModelLoadErrorText, err)
		}

		now := time.Now()
		label, err := a.Predict(cmd.Context(), img)
		if err != nil {
			return err
		}
		fmt.Println(label)

		if term.IsTerminal(int(os.Stderr.Fd())) {
			fmt.Fprintln(os.Stderr, utils.StatusLine("classified in "+utils.FormatTime(time.Since(now)), utils.SuccessMessage))
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyOpts.model, "model", "", "Eyewear classification model file or URL")
	classifyCmd.Flags().StringVar(&classifyOpts.modelConfig, "model-config", "", "Optional classification model configuration")
	classifyCmd.Flags().StringVar(&classifyOpts.preprocess, "preprocess", "none", "Preprocessing filter: none, grayscale, blur or grayscale-blur")

	rootCmd.AddCommand(classifyCmd)
}

// readImage decodes the image at path, or the one piped on stdin when path
// is the pipe name.
func readImage(path string, stdin *os.File) (image.Image, error) {
	var r io.Reader
	if path == pipeName {
		if term.IsTerminal(int(stdin.Fd())) {
			return nil, errors.New("no image piped on stdin")
		}
		r = stdin
	} else {
		ctype, err := utils.DetectContentType(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open the image: %w", err)
		}
		if !strings.HasPrefix(ctype, "image/") {
			return nil, fmt.Errorf("unsupported file type %s", ctype)
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open the image: %w", err)
		}
		defer f.Close()
		r = f
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("unable to decode the image: %w", err)
	}
	return img, nil
}

// preprocessFilter returns the classifier filter with the given name.
func preprocessFilter(name string) (classifier.Filter, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "grayscale":
		return classifier.Grayscale, nil
	case "blur":
		return classifier.GaussianBlur(classifier.DefaultBlurSigma), nil
	case "grayscale-blur":
		return classifier.GrayscaleBlur, nil
	}
	return nil, fmt.Errorf("unknown preprocessing filter %q", name)
}
