// Command bucketevents deploys bucket event subscriptions described in a YAML
// architecture file.
//
// How to run:
//
//	go run ./cmd/bucketevents -config=events.yaml -mode=preview
//	go run ./cmd/bucketevents -config=events.yaml -mode=apply -out=provisioned.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/iam"
	"github.com/illmade-knight/go-bucket-events/pkg/orchestration"
	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// --- Command-line flags ---
	configPath := flag.String("config", "events.yaml", "Path to the events architecture YAML file.")
	mode := flag.String("mode", "preview", "One of preview, apply, verify or roles.")
	out := flag.String("out", "", "File to write the plan or apply report to (default stdout).")
	projectID := flag.String("project", os.Getenv("PROJECT_ID"), "Overrides the project_id in the config file.")
	bucketNaming := flag.Bool("name-from-bucket", false, "Name aggregate notifications after their bucket instead of the first subscription.")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error).")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mode, *out, *projectID, *bucketNaming); err != nil {
		log.Fatal().Err(err).Str("mode", *mode).Msg("bucketevents failed")
	}
}

func run(ctx context.Context, configPath, mode, out, projectID string, bucketNaming bool) error {
	loader := servicemanager.NewYAMLArchitectureLoader(configPath, servicemanager.WithProjectID(projectID))
	arch, err := loader.LoadArchitecture(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("config", configPath).Str("project", arch.ProjectID).Str("mode", mode).Msg("Loaded architecture")

	var opts []orchestration.ConductorOption
	if bucketNaming {
		opts = append(opts, orchestration.WithNamingPolicy(bucketevents.NameFromBucket))
	}
	conductor, err := orchestration.NewConductor(arch, log.Logger, opts...)
	if err != nil {
		return err
	}

	output := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		output = f
	}

	switch mode {
	case "preview":
		return conductor.Preview(ctx, output)
	case "roles":
		for _, role := range iam.NewRolePlanner(log.Logger).PlanRolesForDeployer(arch) {
			fmt.Fprintln(output, role)
		}
		return nil
	case "apply", "verify":
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	clients, err := orchestration.NewGoogleClients(ctx, arch.Environment)
	if err != nil {
		return err
	}
	defer func() {
		if err := clients.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close clients")
		}
	}()

	if mode == "verify" {
		storage, err := servicemanager.NewStorageManager(clients.Storage, log.Logger, arch.Environment)
		if err != nil {
			return err
		}
		return conductor.Verify(ctx, storage, clients.IAM, "serviceAccount:"+arch.InvokerEmail())
	}

	provisioners, err := orchestration.NewProvisioners(clients, arch.Environment, log.Logger)
	if err != nil {
		return err
	}
	return conductor.Apply(ctx, provisioners, servicemanager.NewYAMLResourceWriter(output))
}
