package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestEnvSettings(t *testing.T) {
	values := envSettings([]string{
		"HOME=/root",
		"IRISVIEW_OPENNESS_THRESHOLD=0.05",
		"IRISVIEW_CROP_FACE=true",
		"IRISVIEW_EMPTY=",
		"MQTT_BROKER=broker:1883",
	})
	assert.Equal(t, map[string]string{
		"openness-threshold": "0.05",
		"crop-face":          "true",
		"mqtt":               "broker:1883",
	}, values)

	values = envSettings([]string{"IRISVIEW_MQTT=tcp://a:1883", "MQTT_BROKER=b:1883"})
	assert.Equal(t, "tcp://a:1883", values["mqtt"])
	values = envSettings([]string{"MQTT_BROKER=b:1883", "IRISVIEW_MQTT=tcp://a:1883"})
	assert.Equal(t, "tcp://a:1883", values["mqtt"])
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irisview.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device": "/dev/video2", "crop-face": true, "openness-threshold": 0.03}`), 0o644))

	values, err := loadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", values["device"])
	assert.Equal(t, "true", values["crop-face"])
	assert.Equal(t, "0.03", values["openness-threshold"])

	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o644))
	_, err = loadSettings(path)
	assert.Error(t, err)

	_, err = loadSettings(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestApplySettings(t *testing.T) {
	var (
		device   string
		interval time.Duration
		crop     bool
	)
	cmd := &cobra.Command{Use: "test", Run: func(*cobra.Command, []string) {}}
	cmd.Flags().StringVar(&device, "device", "", "")
	cmd.Flags().DurationVar(&interval, "classify-interval", time.Second, "")
	cmd.Flags().BoolVar(&crop, "crop-face", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--device", "/dev/video1"}))

	err := applySettings(cmd, map[string]string{
		"device":            "/dev/video9",
		"classify-interval": "2s",
		"crop-face":         "true",
		"unknown":           "ignored",
	})
	require.NoError(t, err)

	// the command line wins
	assert.Equal(t, "/dev/video1", device)
	assert.Equal(t, 2*time.Second, interval)
	assert.True(t, crop)

	err = applySettings(cmd, map[string]string{"classify-interval": "soon"})
	assert.ErrorContains(t, err, "classify-interval")
}

func TestReadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.bmp")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, image.NewNRGBA(image.Rect(0, 0, 12, 8))))
	require.NoError(t, f.Close())

	img, err := readImage(path, os.Stdin)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(12, 8), img.Bounds().Size())

	_, err = readImage(filepath.Join(t.TempDir(), "missing.png"), os.Stdin)
	assert.Error(t, err)

	text := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(text, []byte("not an image"), 0o644))
	_, err = readImage(text, os.Stdin)
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestReadImage_Pipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	go func() {
		bmp.Encode(w, image.NewGray(image.Rect(0, 0, 4, 4)))
		w.Close()
	}()

	img, err := readImage(pipeName, r)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(4, 4), img.Bounds().Size())
}

func TestPreprocessFilter(t *testing.T) {
	for _, name := range []string{"", "none"} {
		f, err := preprocessFilter(name)
		require.NoError(t, err)
		assert.Nil(t, f)
	}
	for _, name := range []string{"grayscale", "blur", "grayscale-blur"} {
		f, err := preprocessFilter(name)
		require.NoError(t, err)
		assert.NotNil(t, f)
	}
	_, err := preprocessFilter("sepia")
	assert.Error(t, err)
}
