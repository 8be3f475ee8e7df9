package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mdexec "github.com/noneback/mdexec"
	"github.com/noneback/mdexec/internal/demo"
)

var startValue int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the countdown-loop demo graph and print its result",
	RunE: func(cmd *cobra.Command, args []string) error {
		tf, enterID := demo.CountdownLoop(cfg.Run.Iterations)
		gview, frameInfos := tf.Build()
		impl := mdexec.NewExecutorImpl(gview, frameInfos)

		dm := mdexec.NewStaticDeviceManager(mdexec.NewCPUDevice(0))

		done := make(chan struct{})
		var outputs map[string]*mdexec.Tensor
		var runErr error

		impl.RunAsync(context.Background(), mdexec.Args{
			StepID:          1,
			Rendezvous:      mdexec.NewInMemoryRendezvous(),
			SessionState:    mdexec.NewSessionState(),
			TensorStore:     mdexec.NewTensorStore(),
			StepContainer:   mdexec.NewStepContainer("mdexecctl"),
			DeviceManager:   dm,
			Concurrency:     cfg.Run.Concurrency,
			SyncOnFinish:    cfg.Run.SyncOnFinish,
			AllocatorBudget: cfg.Run.AllocatorBudget,
			Feed:            map[int]*mdexec.Tensor{enterID: mdexec.NewTensor("int", nil, startValue, 8)},
			Logger:          log,
		}, func(outs map[string]*mdexec.Tensor, err error) {
			outputs = outs
			runErr = err
			close(done)
		})

		<-done
		if runErr != nil {
			return fmt.Errorf("run failed: %w", runErr)
		}
		for name, t := range outputs {
			fmt.Printf("%s = %v\n", name, t.Data)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&startValue, "start", 3, "initial countdown value")
	rootCmd.AddCommand(runCmd)
}
