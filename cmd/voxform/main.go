// Package main is the voxform CLI: capture recordings from audio files and
// run the transcription pipeline against the local store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxform/internal/auth"
	"voxform/internal/capture"
	"voxform/internal/config"
	"voxform/internal/maui"
	"voxform/internal/pipeline"
	"voxform/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voxform: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "voxform",
		Short:        "Voice note capture and form compilation pipeline",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newRecordCmd(),
		newListCmd(),
		newShowCmd(),
		newRetryCmd(),
		newEditCmd(),
		newProcessCmd(),
		newDeleteCmd(),
		newLoginCmd(),
	)
	return cmd
}

// env bundles the wired dependencies every subcommand needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.SQLiteStore
	orch   *pipeline.Orchestrator
	authn  auth.Authenticator
	maui   *maui.Client
}

// syncDispatcher runs transcriptions inline so CLI commands finish with a
// definite result.
type syncDispatcher struct {
	run func(ctx context.Context, id string) error
}

func (d syncDispatcher) Dispatch(ctx context.Context, id string) error {
	return d.run(ctx, id)
}

func openEnv() (*env, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	st, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	form, err := pipeline.LoadFormDefinition(cfg.FormSchemaPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	var (
		proc pipeline.Processor
		mc   *maui.Client
	)
	if cfg.MauiBaseURL != "" {
		mc = maui.NewClient(cfg.MauiBaseURL, cfg.GraphQLEndpoint, cfg.RequestTimeout, logger)
		proc = mc
	} else {
		proc = maui.NewMock(logger)
	}
	var authn auth.Authenticator
	if cfg.AuthBaseURL != "" {
		authn = auth.NewClient(cfg.AuthBaseURL, cfg.RequestTimeout, logger)
	} else {
		authn = auth.NewMock(logger)
	}
	creds := pipeline.NewSettingsCredentials(st, cfg.MauiAPIKey, "")
	orch := pipeline.New(st, proc, creds, form, cfg.Language, logger)
	orch.SetDispatcher(syncDispatcher{run: orch.TranscribeOnce})
	return &env{cfg: cfg, logger: logger, store: st, orch: orch, authn: authn, maui: mc}, nil
}

func (e *env) close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

func newRecordCmd() *cobra.Command {
	var (
		name        string
		duration    int
		contentType string
		transcribe  bool
	)
	cmd := &cobra.Command{
		Use:   "record <audio-file>",
		Short: "Capture an audio file as a new recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio file: %w", err)
			}

			// The file stands in for a live microphone; a manual clock
			// credits the recording with the requested duration.
			base := time.Now()
			elapsed := time.Duration(0)
			controller := capture.NewController(e.store, capture.VirtualDevice{}, e.logger,
				capture.WithClock(func() time.Time { return base.Add(elapsed) }),
				capture.WithContentType(contentType))
			if err := controller.Start(ctx, name); err != nil {
				return err
			}
			const chunkSize = 32 * 1024
			for off := 0; off < len(data); off += chunkSize {
				end := off + chunkSize
				if end > len(data) {
					end = len(data)
				}
				if err := controller.Push(data[off:end]); err != nil {
					controller.Abandon()
					return err
				}
			}
			elapsed = time.Duration(duration) * time.Second
			rec, err := controller.Stop(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("saved recording %s (%q, %ds, %d bytes)\n", rec.ID, rec.Name, rec.Duration, len(data))

			if transcribe {
				if err := e.orch.TranscribeOnce(ctx, rec.ID); err != nil {
					return err
				}
				updated, err := e.store.Get(ctx, rec.ID)
				if err != nil {
					return err
				}
				fmt.Printf("transcript: %s\n", updated.Transcript)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Recording name (required)")
	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "Recorded duration in seconds")
	cmd.Flags().StringVar(&contentType, "content-type", capture.DefaultContentType, "Audio content type")
	cmd.Flags().BoolVarP(&transcribe, "transcribe", "t", false, "Transcribe immediately after saving")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recordings, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			recs, err := e.store.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Printf("%s  %-24q  %4ds  %-22s  %s\n",
					rec.ID, rec.Name, rec.Duration,
					pipeline.StateOf(&rec),
					rec.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recording, transcript included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			rec, err := e.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(struct {
				State pipeline.State `json:"state"`
				Rec   any            `json:"recording"`
			}{State: pipeline.StateOf(rec), Rec: rec}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.orch.Retry(cmd.Context(), args[0]); err != nil {
				return err
			}
			rec, err := e.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("state: %s\n", pipeline.StateOf(rec))
			return nil
		},
	}
}

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <text>",
		Short: "Overwrite a recording's transcript",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			return e.orch.EditTranscript(cmd.Context(), args[0], args[1])
		},
	}
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <id>",
		Short: "Submit the transcript for form compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			compiled, err := e.orch.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(string(compiled))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			return e.store.Delete(cmd.Context(), args[0])
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Exchange credentials for a session token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()
			session, err := e.authn.Login(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if err := e.store.PutSetting(ctx, store.SettingAuthToken, session.Token); err != nil {
				return err
			}
			if err := e.store.PutSetting(ctx, store.SettingUserEmail, session.User.Email); err != nil {
				return err
			}
			if e.maui != nil {
				e.maui.EnsureAPIKey(ctx, e.store, maui.Credentials{
					UserEmail: session.User.Email,
					Token:     session.Token,
				})
			}
			fmt.Printf("logged in as %s (%s)\n", session.User.Name, session.User.Email)
			return nil
		},
	}
}
