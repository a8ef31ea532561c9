/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/google/ouli/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats <dir>",
	Short: "Print a summary of every recording file in a directory",
	Long: `stats walks a directory tree, opens every .ouli recording file it
finds, and prints its interaction count, recording id, final chain state,
and whether its header CRC is valid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(args[0])
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(dir string) error {
	runID := uuid.New()
	logger.Infow("stats run starting", "run_id", runID.String(), "dir", dir)

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".ouli") {
			return nil
		}
		printRecordingStats(path)
		return nil
	})
}

func printRecordingStats(path string) {
	reader, err := storage.Open(path)
	if err != nil {
		fmt.Printf("%s: INVALID (%v)\n", path, err)
		return
	}
	defer reader.Close()

	recordingID := reader.RecordingID()
	finalState := reader.FinalChainState()
	fmt.Printf("%s: interactions=%d recording_id=%s final_chain_state=%s crc=valid\n",
		path,
		reader.InteractionCount(),
		hex.EncodeToString(recordingID[:8]),
		hex.EncodeToString(finalState[:8]),
	)
}
