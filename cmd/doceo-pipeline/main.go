// doceo-pipeline runs one course generation end to end from the command line:
// it creates a course, feeds it the given documents, processes the whole
// queue in-process and writes a JSON report of the run.
//
// Exit codes: 0 course completed, 1 course failed, 2 run timed out,
// 3 configuration or input error.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/app"
	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitTimeout   = 2
	exitConfig    = 3
)

var (
	configPath  = flag.String("config", "", "Configuration file path")
	title       = flag.String("title", "Untitled Course", "Course title")
	language    = flag.String("language", "en", "Course language")
	style       = flag.String("style", "practical", "Course style")
	orgID       = flag.String("org", "org-local", "Organization id")
	timeout     = flag.Duration("timeout", 30*time.Minute, "Overall run deadline")
	reportPath  = flag.String("report", "", "Write the JSON report to this file (default stdout)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("doceo-pipeline version %s\n", common.GetFullVersion())
		os.Exit(exitCompleted)
	}
	os.Exit(run(flag.Args()))
}

func run(documents []string) int {
	if len(documents) == 0 {
		fmt.Fprintln(os.Stderr, "usage: doceo-pipeline [flags] document...")
		return exitConfig
	}

	config, err := common.LoadFromFiles(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}

	logger := common.SetupLogger(config)
	application, err := app.New(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return exitConfig
	}
	defer application.Stop()

	if err := application.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return exitConfig
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	courseID, err := createCourse(ctx, application)
	if err != nil {
		fmt.Fprintf(os.Stderr, "course: %v\n", err)
		return exitConfig
	}

	for _, path := range documents {
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "document %s: %v\n", path, err)
			return exitConfig
		}
		name := filepath.Base(path)
		if _, err := application.SubmitDocument(ctx, courseID, *orgID, name, mimeFor(name), content); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue %s: %v\n", path, err)
			return exitConfig
		}
	}

	status, timedOut := watch(ctx, application, courseID)
	if err := writeReport(ctx, application, courseID, status, timedOut); err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
	}

	switch {
	case timedOut:
		return exitTimeout
	case status == models.GenerationStatusCompleted:
		return exitCompleted
	default:
		return exitFailed
	}
}

func createCourse(ctx context.Context, a *app.App) (string, error) {
	now := time.Now().UTC()
	course := &models.Course{
		ID:               common.NewCourseID(),
		OrganizationID:   *orgID,
		Title:            *title,
		Language:         *language,
		Style:            *style,
		GenerationStatus: models.GenerationStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.Storage.CourseStorage().SaveCourse(ctx, course); err != nil {
		return "", err
	}
	return course.ID, nil
}

// watch waits for the course to reach a terminal state or the run deadline
// and prints the trail of status transitions
func watch(ctx context.Context, a *app.App, courseID string) (models.GenerationStatus, bool) {
	trail, err := pipeline.WaitForStatus(ctx, a.Storage.CourseStorage(), courseID, time.Second,
		models.GenerationStatusCompleted)
	for _, obs := range trail {
		fmt.Fprintf(os.Stderr, "%s  %s (%d%%)\n",
			obs.At.Format("15:04:05"), obs.Status, obs.Progress)
	}

	last := models.GenerationStatus("")
	if len(trail) > 0 {
		last = trail[len(trail)-1].Status
	}
	if err != nil && pipeline.KindOf(err) == pipeline.KindTimeout {
		return last, true
	}
	return last, false
}

// runReport is the JSON document written at the end of a run
type runReport struct {
	CourseID       string                   `json:"course_id"`
	Status         models.GenerationStatus  `json:"status"`
	TimedOut       bool                     `json:"timed_out,omitempty"`
	Error          string                   `json:"error,omitempty"`
	TokensUsed     int                      `json:"tokens_used"`
	CostUSD        float64                  `json:"cost_usd"`
	StageDurations map[string]string        `json:"stage_durations,omitempty"`
	StageTokens    map[string]int           `json:"stage_tokens,omitempty"`
	Lessons        []lessonReport           `json:"lessons,omitempty"`
}

type lessonReport struct {
	LessonID     string  `json:"lesson_id"`
	Title        string  `json:"title"`
	Status       string  `json:"status"`
	QualityScore float64 `json:"quality_score,omitempty"`
	TokensUsed   int     `json:"tokens_used"`
	CostUSD      float64 `json:"cost_usd"`
	Error        string  `json:"error,omitempty"`
}

func writeReport(ctx context.Context, a *app.App, courseID string, status models.GenerationStatus, timedOut bool) error {
	report := runReport{
		CourseID: courseID,
		Status:   status,
		TimedOut: timedOut,
	}

	if course, err := a.Storage.CourseStorage().GetCourse(ctx, courseID); err == nil {
		if course.GenerationMetadata != nil {
			report.Error = course.GenerationMetadata.ErrorMessage
		}
	}

	cm := a.Ledger.CourseMetrics(courseID)
	report.TokensUsed = cm.TokensUsed
	report.CostUSD = cm.CostUSD
	report.StageTokens = cm.StageTokens
	if len(cm.StageDurations) > 0 {
		report.StageDurations = make(map[string]string, len(cm.StageDurations))
		for stage, d := range cm.StageDurations {
			report.StageDurations[stage] = d.Round(time.Millisecond).String()
		}
	}

	lessons, err := a.Storage.LessonStorage().GetLessonsByCourse(ctx, courseID)
	if err == nil {
		for _, lesson := range lessons {
			lr := lessonReport{LessonID: lesson.ID, Title: lesson.Title, Status: "pending"}
			if content, err := a.Storage.LessonStorage().GetLessonContent(ctx, lesson.ID); err == nil {
				lr.Status = string(content.Status)
				lr.Error = content.Error
				if content.Metrics != nil {
					lr.QualityScore = content.Metrics.QualityScore
					lr.TokensUsed = content.Metrics.TokensUsed
					lr.CostUSD = content.Metrics.CostUSD
				}
			}
			report.Lessons = append(report.Lessons, lr)
		}
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if *reportPath == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(*reportPath, out, 0o644)
}

// mimeFor maps a document filename to its upload mime type
func mimeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/plain"
	}
}
