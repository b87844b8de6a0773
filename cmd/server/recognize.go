package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"face-attendance/internal/recognition"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run the recognition pipeline on one image and print the result as JSON",
	Long: `Run the recognition pipeline on one image file. With --subject the recognized
students are recorded in the configured ledger, exactly like the HTTP endpoint.`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().String("image", "", "Path to the classroom photo (required)")
	recognizeCmd.Flags().String("subject", "", "Subject to record attendance for")
	_ = recognizeCmd.MarkFlagRequired("image")
}

func runRecognize(cmd *cobra.Command, _ []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	subject, _ := cmd.Flags().GetString("subject")

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orchestrator.Recognize(ctx, recognition.Request{
		RequestID: uuid.NewString(),
		Image:     data,
		SubjectID: subject,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
