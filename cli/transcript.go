package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/sink"
)

func openSavedStore(deps *Dependencies) (sink.Store, error) {
	if deps.Config.Storage.Disabled {
		return nil, errors.New("storage is disabled in the configuration")
	}
	return sink.OpenSQLite(deps.Config.Storage.Path)
}

func NewTranscriptCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print a stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSavedStore(deps)
			if err != nil {
				return err
			}
			defer store.Close()

			out := NewFormatter(deps.Stdout)
			sessionID := args[0]

			note, err := store.Note(cmd.Context(), sessionID)
			if err == nil {
				out.Note(note)
				return nil
			}
			if !errors.Is(err, sink.ErrNotFound) {
				return err
			}

			// Never finalized, e.g. the client was killed mid-session.
			entries, err := store.Entries(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return errors.Errorf("no transcript for session %s", sessionID)
			}
			out.Info("Session was not finalized; showing the entries received")
			t := model.Transcript{SessionID: sessionID, Entries: entries}
			out.Note(model.StoredNote{
				SessionID: sessionID,
				Entries:   len(entries),
				Text:      t.Text(),
				StartedAt: entries[0].Timestamp,
			})
			return nil
		},
	}
	return cmd
}

func NewNotesCmd(deps *Dependencies) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List stored transcripts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSavedStore(deps)
			if err != nil {
				return err
			}
			defer store.Close()

			out := NewFormatter(deps.Stdout)
			notes, err := store.Notes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				out.Info("No transcripts found")
				return nil
			}
			for _, n := range notes {
				out.NoteListItem(n)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of transcripts to list")
	return cmd
}
