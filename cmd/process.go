package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docpipe/internal/model"
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Process a single document and stream progress to the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return eris.Wrap(err, "resolve file path")
		}
		info, err := os.Stat(path)
		if err != nil {
			return eris.Wrap(err, "stat input file")
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc := &model.Document{
			ID:       uuid.NewString(),
			Filename: filepath.Base(path),
			FilePath: path,
			FileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			Size:     info.Size(),
			Status:   model.DocumentStatusUploaded,
		}
		if err := env.Store.CreateDocument(ctx, doc); err != nil {
			return eris.Wrap(err, "create document")
		}

		// Subscribe before enqueueing so no event is missed.
		sub := env.Broadcaster.Subscribe(doc.ID)
		defer env.Broadcaster.Unsubscribe(sub)

		jobID, err := env.Queue.Enqueue(ctx, doc.ID, path, "")
		if err != nil {
			return eris.Wrap(err, "enqueue document")
		}
		fmt.Printf("document %s queued as job %s\n", doc.ID, jobID)

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, open := <-sub.Events():
				if !open {
					return eris.New("event stream closed before terminal state")
				}
				switch ev.Type {
				case model.EventHeartbeat, model.EventConnected:
				case model.EventComplete:
					fmt.Printf("[%3d%%] complete\n", ev.Percentage)
					out, err := json.MarshalIndent(ev.Result, "", "  ")
					if err != nil {
						return eris.Wrap(err, "encode result")
					}
					fmt.Println(string(out))
					return nil
				case model.EventError:
					fmt.Printf("[%3d%%] error: %s\n", ev.Percentage, ev.ErrorDetail.Message)
					if ev.ErrorDetail.Remediation != "" {
						fmt.Println(ev.ErrorDetail.Remediation)
					}
					return eris.Errorf("processing failed at step %s", ev.ErrorDetail.Step)
				default:
					fmt.Printf("[%3d%%] %s\n", ev.Percentage, ev.Step)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
