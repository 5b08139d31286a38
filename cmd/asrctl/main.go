package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/audio"
	"github.com/talkghana/asr-gateway/internal/config"
	"github.com/talkghana/asr-gateway/internal/observability"
	"github.com/talkghana/asr-gateway/internal/stt"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "asrctl",
	Short:        "Talk to the ASR endpoint the gateway fronts",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		transcribeCmd(),
		probeCmd(),
		languagesCmd(),
	)
}

func transcribeCmd() *cobra.Command {
	var (
		language string
		model    string
		mimeType string
		wait     time.Duration
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file",
		Long: `Transcribe an audio file through the resilient client.

The request is queued until the endpoint answers its health probe, then
retried on transient failures, exactly as the gateway does it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read audio: %w", err)
			}

			// Quiet by default; the server log level is usually too chatty here
			logger := observability.NewLogger(os.Stderr, config.GetEnv("ASRCTL_LOG_LEVEL", "warn"), true)
			client, err := stt.NewClient(cfg, logger, nil)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			result, err := client.Transcribe(ctx, stt.Request{
				Payload:  audio.NewPayload(data, audio.ResolveMIMEType(mimeType, data)),
				Language: language,
				Model:    model,
			})
			if err != nil {
				var apiErr *apierror.Error
				if errors.As(err, &apiErr) {
					return fmt.Errorf("%s (%s after %d attempts)", apiErr.Message(), apiErr.Kind, apiErr.Attempts)
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "spoken language code (twi, ga, ee, ha, dag, en)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model override")
	cmd.Flags().StringVar(&mimeType, "mime", "", "audio MIME type (sniffed when empty)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "give up after this long")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")

	return cmd
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the endpoint is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			probe, closeProbe, err := stt.NewProber(cfg)
			if err != nil {
				return err
			}
			defer closeProbe()

			start := time.Now()
			healthy := probe.Check(cmd.Context())
			elapsed := time.Since(start).Round(time.Millisecond)

			if !healthy {
				return fmt.Errorf("endpoint %s is unreachable (%s probe, %v)", cfg.Endpoint(), cfg.ProbeKind, elapsed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "endpoint %s is healthy (%s probe, %v)\n", cfg.Endpoint(), cfg.ProbeKind, elapsed)
			return nil
		},
	}
}

func languagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, l := range stt.SupportedLanguages() {
				fmt.Fprintf(out, "%-4s %-10s %-10s %s\n", l.Code, l.Name, l.NativeName, l.Model)
			}
			return nil
		},
	}
}
