package main

import (
	"context"
	"fmt"
	"os"

	"face-attendance/internal/enrollment"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a student from a single-face photo",
	RunE:  runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("image", "", "Path to the portrait (required)")
	enrollCmd.Flags().String("name", "", "Student name (required)")
	enrollCmd.Flags().String("student-id", "", "Student id (required)")
	for _, f := range []string{"image", "name", "student-id"} {
		_ = enrollCmd.MarkFlagRequired(f)
	}
}

func runEnroll(cmd *cobra.Command, _ []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	name, _ := cmd.Flags().GetString("name")
	studentID, _ := cmd.Flags().GetString("student-id")

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	student, err := a.writer.Enroll(ctx, enrollment.Request{Name: name, StudentID: studentID, Image: data})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s (%s) as %s\n", student.Name, student.StudentID, student.IdentityKey)
	return nil
}
