/*
Package irisview tracks the iris on a live camera stream and classifies the
eyewear worn by the subject.

A Pipeline drives the capture: it enumerates the video devices, loads the
landmark and classification models, then pushes every displayed frame to the
landmark model. Each result is turned into an iris estimate for both eyes and
an overlay (eye contours, iris circles, frame rate and status text) rendered
by the Display. While the iris is visible, the frame is classified at most
once per ClassifyInterval.

The command line interface wires the OpenCV webcam, the pigo or FaceMesh
landmark models, the Gio preview window or the headless snapshot writer and
an optional MQTT status publisher:

	$ irisview cameras
	$ irisview run --model eyewear.onnx
	$ irisview classify --model eyewear.onnx face.jpg

Using the API directly:

	p := irisview.New(irisview.Options{
		Camera:     cv.NewWebcam(),
		Display:    preview.NewWindow("irisview", 540, 960),
		Landmarks:  landmark.NewPigo("cascade/facefinder", "cascade/puploc"),
		Classifier: classifier.New(cv.LoadGraph("eyewear.onnx", "")),
		Config:     irisview.DefaultConfig(),
	})
	if err := p.Initialize(ctx); err != nil {
		log.Fatal(err)
	}
	if err := p.StartCamera(ctx); err != nil {
		log.Fatal(err)
	}
*/
package irisview
