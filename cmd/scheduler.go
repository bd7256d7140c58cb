/*
Copyright 2025 Intake Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intakehq/intake"
)

// schedulerCommands defines the "scheduler" command. The scheduler moves
// work items whose retry time has arrived from the scheduled registry back
// to the ready list and expires terminal items past retention. It is safe
// to run more than one instance; the claim is atomic per item.
func schedulerCommands(in *intakeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "start intake retry scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler := intake.NewRetryScheduler(in.intake.Queue(), in.cnf.Queue.SchedulerInterval())
			log.Printf(" [*] Scheduler started, reconciling every %s", in.cnf.Queue.SchedulerInterval())
			if err := scheduler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Fatalf("scheduler stopped: %v", err)
			}
		},
	}

	return cmd
}
