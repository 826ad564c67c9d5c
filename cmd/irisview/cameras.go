package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/esimov/irisview/cv"
	"github.com/spf13/cobra"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List the video input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cam := cv.NewWebcam()
		cam.Logger = newLogger()

		devices, err := cam.Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No video input devices found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tLABEL")
		fmt.Fprintln(w, "--\t-----")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Label)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(camerasCmd)
}
