package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/debug"
	"github.com/wehubfusion/Daedalus/pkg/engine"
)

// NodeReport is the final state of one node
type NodeReport struct {
	NodeID string `json:"node_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Report is the archived record of a finished run
type Report struct {
	RunID      string         `json:"run_id"`
	Workflow   string         `json:"workflow,omitempty"`
	Summary    engine.Summary `json:"summary"`
	Nodes      []NodeReport   `json:"nodes"`
	Frames     []debug.Frame  `json:"frames"`
	Metrics    engine.Metrics `json:"metrics"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// NewReport captures a finished run. Nodes are listed in execution order.
func NewReport(run *engine.Run, workflow string) (*Report, error) {
	summary, ok := run.Result()
	if !ok {
		return nil, fmt.Errorf("run %s has not finished", run.ID())
	}

	order := run.Order()
	nodes := make([]NodeReport, 0, len(order))
	for _, id := range order {
		status, _ := run.NodeStatus(id)
		nodes = append(nodes, NodeReport{NodeID: string(id), Status: string(status), Reason: run.NodeReason(id)})
	}

	return &Report{
		RunID:    run.ID(),
		Workflow: workflow,
		Summary:  summary,
		Nodes:    nodes,
		Frames:   run.DebugFrames(),
		Metrics:  run.Metrics(),
	}, nil
}

// ReportPath returns the blob path of a run's report
func ReportPath(runID string) string {
	return fmt.Sprintf("runs/%s/report.json", runID)
}

// ReportArchive writes run reports to a blob store
type ReportArchive struct {
	store  BlobStore
	logger *zap.Logger
}

// NewReportArchive creates an archive on top of store
func NewReportArchive(store BlobStore, logger *zap.Logger) *ReportArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportArchive{store: store, logger: logger}
}

// Archive uploads the report and returns the blob URL
func (a *ReportArchive) Archive(ctx context.Context, report *Report) (string, error) {
	if a.store == nil {
		return "", fmt.Errorf("blob store not initialized")
	}
	if report == nil || report.RunID == "" {
		return "", fmt.Errorf("report needs a run id")
	}
	if report.ArchivedAt.IsZero() {
		report.ArchivedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	metadata := map[string]string{
		"run_id":     report.RunID,
		"outcome":    report.Summary.Outcome,
		"failed":     strconv.Itoa(report.Summary.Failed),
		"node_count": strconv.Itoa(len(report.Nodes)),
	}
	if report.Workflow != "" {
		metadata["workflow"] = report.Workflow
	}

	blobPath := ReportPath(report.RunID)
	url, err := a.store.Upload(ctx, blobPath, data, metadata)
	if err != nil {
		return "", err
	}

	a.logger.Info("Archived run report",
		zap.String("run_id", report.RunID),
		zap.String("blob_path", blobPath),
		zap.Int("frames", len(report.Frames)))
	return url, nil
}

// Fetch downloads the report of runID
func (a *ReportArchive) Fetch(ctx context.Context, runID string) (*Report, error) {
	if a.store == nil {
		return nil, fmt.Errorf("blob store not initialized")
	}
	data, err := a.store.Download(ctx, ReportPath(runID))
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &report, nil
}
