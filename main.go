package main

import (
	"errors"
	"os"

	"github.com/imishinist/mlflow-recorder/cmd"
	"github.com/imishinist/mlflow-recorder/internal/recorder"
)

func main() {
	if err := cmd.Execute(); err != nil {
		// scripts can retry on an unreachable tracking server
		if errors.Is(err, recorder.ErrBackendUnavailable) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
