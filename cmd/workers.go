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
	"github.com/intakehq/intake/config"
)

// workerCommands defines the "workers" command. A worker dequeues work items
// sequentially, runs the ingestion pipeline on each, and records the outcome
// back in the queue store. Webhook delivery runs alongside it in the same
// process.
func workerCommands(in *intakeInstance) *cobra.Command {
	var queues []string

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start intake workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			go func() {
				if err := in.intake.ProcessWebhookEvents(ctx); err != nil && ctx.Err() == nil {
					log.Printf("webhook delivery stopped: %v", err)
				}
			}()

			worker := intake.NewWorker(in.intake, queues)
			log.Println(" [*] Worker started, waiting for work items")
			if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
				log.Fatalf("worker stopped: %v", err)
			}
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queue", nil, "queue lanes to consume, highest priority first (defaults to all configured lanes)")

	return cmd
}
