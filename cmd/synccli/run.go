package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/airweave-ai/airweave-sync/internal/connectors/gitea"
	"github.com/airweave-ai/airweave-sync/internal/connectors/msgraph"
	"github.com/airweave-ai/airweave-sync/internal/docstore"
	"github.com/airweave-ai/airweave-sync/internal/orchestrator"
	"github.com/airweave-ai/airweave-sync/internal/tokenmanager"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run one sync job to completion",
	RunE:  runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.String("sync-id", "", "sync definition id (required)")
	flags.String("sync-job-id", "", "sync job id (required)")
	flags.String("collection-id", "", "destination collection id (required)")
	flags.String("source", "", "source connector: msgraph or gitea (required)")

	flags.Bool("destination-qdrant", false, "write to Qdrant")
	flags.Bool("destination-vespa", false, "write to Vespa")
	flags.Bool("destination-neo4j", false, "write to Neo4j")
	flags.String("vespa-schema", "", "Vespa schema name (default airweave_entities)")
	flags.String("qdrant-api-key", "", "Qdrant API key")

	flags.Bool("dedupe-by-collection", false, "resolve against the whole collection, not just this sync")
	flags.Bool("skip-hash-comparison", false, "classify every non-deletion entity as an insert (ARF replay mode)")
	flags.Bool("force-full-sync", false, "ignore any persisted cursor and run a full sync")
	flags.Int("batch-size", 0, "entities per pipeline batch (default 100)")

	flags.String("token", "", "static access token (direct-injection auth, variant 1)")
	flags.String("refresh-token", "", "OAuth2 refresh token (variant 3)")
	flags.String("token-url", "", "OAuth2 token endpoint, required with --refresh-token")
	flags.String("client-id", "", "OAuth2 client id")
	flags.String("client-secret", "", "OAuth2 client secret")

	flags.String("msgraph-tenant-id", "", "Microsoft Graph tenant id")
	flags.String("msgraph-client-id", "", "Microsoft Graph application (client) id")
	flags.String("msgraph-user-id", "", "mailbox owner's user id or UPN")

	flags.String("gitea-base-url", "", "Gitea instance base URL")
	flags.String("gitea-owner", "", "repository owner")
	flags.String("gitea-repo", "", "repository name")

	viper.BindPFlag("destination.qdrant", flags.Lookup("destination-qdrant"))
	viper.BindPFlag("destination.vespa", flags.Lookup("destination-vespa"))
	viper.BindPFlag("destination.neo4j", flags.Lookup("destination-neo4j"))
	viper.BindPFlag("destination.vespa-schema", flags.Lookup("vespa-schema"))
	viper.BindPFlag("destination.qdrant-api-key", flags.Lookup("qdrant-api-key"))
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	syncID, _ := flags.GetString("sync-id")
	syncJobID, _ := flags.GetString("sync-job-id")
	collectionID, _ := flags.GetString("collection-id")
	sourceName, _ := flags.GetString("source")
	if syncID == "" || syncJobID == "" || collectionID == "" || sourceName == "" {
		return fmt.Errorf("synccli: --sync-id, --sync-job-id, --collection-id, and --source are all required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	source, err := buildSource(sourceName, flags)
	if err != nil {
		return err
	}

	tm := tokenmanager.New(syncID, tokenSourceFromFlags(flags), c.cfg.TokenRefreshInterval, c.logger)
	source.SetTokenManager(tm)

	jobDoc := &docstore.SyncJobDefinition{ID: syncJobID, SyncID: syncID, Status: string(orchestrator.StatusPending), StartedAt: time.Now()}
	if err := c.docs.PutSyncJob(ctx, jobDoc); err != nil {
		return fmt.Errorf("synccli: recording sync job start: %w", err)
	}

	dedupe, _ := flags.GetBool("dedupe-by-collection")
	skipHash, _ := flags.GetBool("skip-hash-comparison")
	forceFullSync, _ := flags.GetBool("force-full-sync")
	batchSize, _ := flags.GetInt("batch-size")

	orch := &orchestrator.Orchestrator{
		Pipeline:                 c.pipeline,
		Resolver:                 c.resolver,
		Checkpoint:               c.checkpoint,
		CompletionPublisher:      c.completion,
		Logger:                   c.logger,
		MaxWorkers:               c.cfg.MaxWorkers,
		SourceStreamBufferFactor: c.cfg.SourceStreamBufferFactor,
		CancellationGracePeriod:  c.cfg.CancellationGracePeriod,
		RedisURL:                 c.cfg.RedisURL,
		TempRoot:                 c.cfg.TempRoot,
	}

	// trackerHolder bridges the tracker Run() creates internally to the
	// signal handler and the cross-process poll below, both of which start
	// before Run() does and must route through Orchestrator.Cancel (not a
	// raw ctx cancel) once the tracker exists, so a real cancellation is
	// reported as CANCELLED instead of FAILED.
	var trackerHolder atomic.Pointer[orchestrator.JobTracker]
	requestCancellation := func(reason string) {
		if t := trackerHolder.Load(); t != nil {
			if err := orch.Cancel(t, cancel, reason); err != nil {
				fmt.Fprintf(os.Stderr, "synccli: cancel: %v\n", err)
			}
			return
		}
		cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "synccli: received interrupt, requesting cancellation...")
		requestCancellation("operator interrupt (SIGINT/SIGTERM)")
	}()

	go pollForCancellation(ctx, c, syncJobID, requestCancellation)

	req := orchestrator.Request{
		SyncID:             syncID,
		SyncJobID:          syncJobID,
		CollectionID:       collectionID,
		Source:             source,
		VectorDestinations: c.vectorDestinations(),
		GraphDestinations:  c.graphDestinations(),
		DedupeByCollection: dedupe,
		SkipHashComparison: skipHash,
		ForceFullSync:      forceFullSync,
		BatchSize:          batchSize,
		OnTracker:          trackerHolder.Store,
	}

	tracker, runErr := orch.Run(ctx, req)
	state := tracker.State()

	jobDoc.Status = string(state.Status)
	jobDoc.FinishedAt = time.Now()
	if runErr != nil {
		jobDoc.Error = runErr.Error()
	}
	if err := c.docs.PutSyncJob(ctx, jobDoc); err != nil {
		fmt.Fprintf(os.Stderr, "synccli: recording sync job completion: %v\n", err)
	}

	if runErr != nil {
		return fmt.Errorf("synccli: sync job %s failed: %w", syncJobID, runErr)
	}
	fmt.Printf("sync job %s completed with status %s\n", syncJobID, state.Status)
	return nil
}

// pollForCancellation is the `run` side of the cross-process cancel
// protocol: a separate `synccli cancel` invocation can only reach this job
// through the shared document store, so this loop is the only thing that
// observes that request and turns it into the in-process cancellation the
// Orchestrator already honors.
func pollForCancellation(ctx context.Context, c *components, syncJobID string, requestCancellation func(reason string)) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := c.docs.GetSyncJob(ctx, syncJobID)
			if err != nil {
				continue
			}
			if job.CancelRequested {
				fmt.Fprintln(os.Stderr, "synccli: cancellation requested via synccli cancel, stopping...")
				requestCancellation("cancelled via synccli cancel")
				return
			}
		}
	}
}

func buildSource(name string, flags *pflag.FlagSet) (orchestrator.Source, error) {
	switch name {
	case "msgraph":
		tenantID, _ := flags.GetString("msgraph-tenant-id")
		clientID, _ := flags.GetString("msgraph-client-id")
		userID, _ := flags.GetString("msgraph-user-id")
		if tenantID == "" || clientID == "" || userID == "" {
			return nil, fmt.Errorf("synccli: --msgraph-tenant-id, --msgraph-client-id, and --msgraph-user-id are required for --source msgraph")
		}
		return msgraph.New(msgraph.DefaultConfig(tenantID, clientID, userID)), nil
	case "gitea":
		baseURL, _ := flags.GetString("gitea-base-url")
		owner, _ := flags.GetString("gitea-owner")
		repo, _ := flags.GetString("gitea-repo")
		if baseURL == "" || owner == "" || repo == "" {
			return nil, fmt.Errorf("synccli: --gitea-base-url, --gitea-owner, and --gitea-repo are required for --source gitea")
		}
		return gitea.New(gitea.DefaultConfig(baseURL, owner, repo)), nil
	default:
		return nil, fmt.Errorf("synccli: unknown source %q (want msgraph or gitea)", name)
	}
}

func tokenSourceFromFlags(flags *pflag.FlagSet) tokenmanager.Source {
	refreshToken, _ := flags.GetString("refresh-token")
	if refreshToken == "" {
		token, _ := flags.GetString("token")
		return &tokenmanager.DirectSource{Token: token}
	}

	tokenURL, _ := flags.GetString("token-url")
	clientID, _ := flags.GetString("client-id")
	clientSecret, _ := flags.GetString("client-secret")
	return &tokenmanager.OAuth2RefreshSource{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		RefreshToken: refreshToken,
	}
}
