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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/intakehq/intake"
	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/database"
	"github.com/intakehq/intake/internal/notification"
)

// Intake represents the CLI application, encapsulating the root Cobra command.
type Intake struct {
	cmd *cobra.Command
}

// intakeInstance holds the runtime Intake core and its configuration, shared
// by every subcommand.
type intakeInstance struct {
	intake *intake.Intake
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the Intake core before any
// command runs.
func preRun(app *intakeInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("intake.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newIntake, err := setupIntake(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.intake = newIntake
		app.cnf = cnf

		return nil
	}
}

// setupIntake connects the datasource and builds the Intake core from it.
func setupIntake(cfg *config.Configuration) (*intake.Intake, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newIntake, err := intake.NewIntake(db)
	if err != nil {
		return nil, fmt.Errorf("error creating intake: %v", err)
	}
	return newIntake, nil
}

// NewCLI creates the command-line interface for the intake application.
func NewCLI() *Intake {
	var configFile string
	in := &intakeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "intake",
		Short: "Referral intake server",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./intake.json", "Configuration file for the intake server")

	rootCmd.PersistentPreRunE = preRun(in)

	rootCmd.AddCommand(serverCommands(in))
	rootCmd.AddCommand(workerCommands(in))
	rootCmd.AddCommand(schedulerCommands(in))
	rootCmd.AddCommand(migrateCommands(in))

	return &Intake{cmd: rootCmd}
}

func (w Intake) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
