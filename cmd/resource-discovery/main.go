// Command resource-discovery runs the AWS Config discovery pipeline against
// an organization: crawl the account tree, collect per-region Config state,
// and ingest configuration snapshots into the document store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/openraven/aws-config-discovery/aws"
	"github.com/openraven/aws-config-discovery/config"
	"github.com/openraven/aws-config-discovery/configinfo"
	"github.com/openraven/aws-config-discovery/credentials"
	"github.com/openraven/aws-config-discovery/docstore"
	"github.com/openraven/aws-config-discovery/metrics"
	"github.com/openraven/aws-config-discovery/organization"
	"github.com/openraven/aws-config-discovery/snapshot"
)

const usage = `Usage: resource-discovery <command> [flags]

Commands:
  discover-organization  Crawl the organization tree and store its document
  get-organization       Print the stored organization document
  discover-config        Collect per-account, per-region Config service state
  get-config             Print stored account documents
  ingest-snapshot        Ingest new configuration snapshots
  get-snapshots          Print stored snapshot records
  deliver-snapshot       Request fresh snapshot deliveries
  setup-database         Reset indices and apply templates
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("a command is required")
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	esURL := fs.String("es-url", envOr("ELASTICSEARCH_URL", "http://localhost:9200"), "Elasticsearch endpoint")
	esUsername := fs.String("es-username", os.Getenv("ELASTICSEARCH_USERNAME"), "Elasticsearch username")
	esPassword := fs.String("es-password", os.Getenv("ELASTICSEARCH_PASSWORD"), "Elasticsearch password")
	awsRegion := fs.String("region", os.Getenv("AWS_REGION"), "AWS region for the base configuration")
	accountID := fs.String("account", "", "Restrict to one account id")
	regionID := fs.String("account-region", "", "Restrict snapshot operations to one region")
	verbose := fs.Bool("verbose", false, "Development-style logging")

	if err := fs.Parse(os.Args[2:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := &config.Config{
		ElasticsearchURL:      *esURL,
		ElasticsearchUsername: *esUsername,
		ElasticsearchPassword: *esPassword,
		AWSRegion:             *awsRegion,
		AccountID:             *accountID,
		RegionID:              *regionID,
		Verbose:               *verbose,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	store, err := docstore.NewElasticsearch(cfg.ElasticsearchURL, cfg.ElasticsearchUsername, cfg.ElasticsearchPassword, log)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if command == "setup-database" {
		ok := store.DeleteAWSIndices(ctx) && store.ApplyTemplates(ctx) && store.EnsureCoreIndices(ctx)
		if !ok {
			return fmt.Errorf("database setup did not complete cleanly")
		}
		fmt.Println("Database setup complete")
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	factory := aws.NewSDKClientFactory(awsCfg)
	broker := credentials.NewSTSBroker(factory.STS(), log)
	m := metrics.NewMetrics()

	orgService := organization.NewService(factory, broker, store, log)
	configService := configinfo.NewService(factory, broker, store, orgService, log, m)
	snapshotService := snapshot.NewService(factory, broker, store, configService, log, m)

	switch command {
	case "discover-organization":
		doc, err := orgService.Discover(ctx)
		if err != nil {
			return err
		}
		printJSON(doc)

	case "get-organization":
		doc, err := orgService.Get(ctx)
		if err != nil {
			return err
		}
		printJSON(doc)

	case "discover-config":
		docs, err := configService.Discover(ctx, cfg.AccountID)
		if err != nil {
			return err
		}
		printJSON(docs)

	case "get-config":
		printJSON(configService.Get(ctx, cfg.AccountID))

	case "ingest-snapshot":
		for _, result := range snapshotService.Ingest(ctx, cfg.AccountID, cfg.RegionID) {
			switch result.Status {
			case snapshot.StatusIngested:
				fmt.Printf("%s/%s: ingested %d items\n", result.AccountID, result.Region, result.ItemsWritten)
			case snapshot.StatusSkipped:
				fmt.Printf("%s/%s: already processed\n", result.AccountID, result.Region)
			case snapshot.StatusFailed:
				fmt.Printf("%s/%s: failed: %v\n", result.AccountID, result.Region, result.Err)
			}
		}

	case "get-snapshots":
		printJSON(snapshotService.Get(ctx, cfg.AccountID, cfg.RegionID))

	case "deliver-snapshot":
		printJSON(snapshotService.Deliver(ctx, cfg.AccountID, cfg.RegionID))

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}

	fmt.Println(m.GenerateReport())
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}
