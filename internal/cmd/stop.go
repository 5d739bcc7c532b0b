package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var stopGrace time.Duration

var stopCmd = &cobra.Command{
	Use:     "stop",
	Aliases: []string{"kill"},
	Short:   "Stop the running arcade backend",
	Long:    "Stop the running arcade backend by sending a graceful termination signal",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		pidManager := utils.NewPIDManager(config)

		pid, err := pidManager.ReadPID()
		if err != nil {
			if errors.Is(err, utils.ErrNotRunning) {
				fmt.Println("Gasless Arcade backend is not running")
				return
			}
			fail("stop", "failed to read PID: %v", err)
		}

		if !pidManager.IsProcessRunning(pid) {
			logger.Warn(fmt.Sprintf("Process with PID %d is not running", pid), "stop")
			if err := pidManager.RemovePIDFile(); err != nil {
				fmt.Printf("Warning: Failed to remove stale PID file: %v\n", err)
			} else {
				fmt.Println("Removed stale PID file")
			}
			return
		}

		fmt.Printf("Stopping Gasless Arcade backend (PID: %d)...\n", pid)
		if err := pidManager.StopProcess(pid, stopGrace); err != nil {
			fail("stop", "failed to stop process: %v", err)
		}
		if err := pidManager.RemovePIDFile(); err != nil {
			fmt.Printf("Warning: Failed to remove PID file: %v\n", err)
		}

		logger.Info(fmt.Sprintf("Stopped backend process %d", pid), "stop")
		fmt.Println("Gasless Arcade backend stopped")
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 10*time.Second, "time to wait before killing the process")
	rootCmd.AddCommand(stopCmd)
}
