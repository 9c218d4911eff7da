package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/codec"
)

func newCatCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "cat <hash>...",
		Short: "Write artefact bytes (or JSON) to standard output.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			targets, err := s.resolveArgs(ctx, args)
			if err != nil {
				return err
			}
			for _, t := range targets {
				v, err := s.ctx.Take(ctx, t, strict)
				if err != nil {
					return &notFoundErr{err}
				}
				if err := writeValue(os.Stdout, v); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", true, "fail on an artefact in the error status instead of printing the error record")
	return cmd
}

func writeValue(w *os.File, v codec.Value) error {
	if v.Kind == codec.Blob {
		_, err := w.Write(v.Bytes)
		return err
	}
	enc, err := json.Marshal(v.JSON)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(enc))
	return err
}
