package evaluate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	summaryFile    = "evaluation_summary.txt"
	trajectoryFile = "stake_trajectory.csv"
	jsonFile       = "evaluation_results.json"
)

// Reporter writes evaluation reports
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes the text summary, the stake trajectory CSV and the
// JSON report into the output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateTrajectory(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, summaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	res := r.results
	fmt.Fprintf(w, "EVALUATION RESULTS SUMMARY\n")
	fmt.Fprintf(w, "==========================\n\n")
	fmt.Fprintf(w, "Source: %s\n", res.Source)
	fmt.Fprintf(w, "Duration: %s\n\n", res.EndTime.Sub(res.StartTime).Round(time.Millisecond))

	fmt.Fprintf(w, "CONSENSUS\n")
	fmt.Fprintf(w, "---------\n")
	fmt.Fprintf(w, "Samples: %d\n", res.Samples)
	fmt.Fprintf(w, "Failed Rounds: %d\n", res.FailedRounds)
	fmt.Fprintf(w, "Correct: %d\n", res.Correct)
	fmt.Fprintf(w, "Consensus Accuracy: %.2f%%\n", res.ConsensusAccuracy*100)

	models := res.SortedModels()
	if len(models) == 0 {
		return
	}
	fmt.Fprintf(w, "\nMODELS\n")
	fmt.Fprintf(w, "------\n")
	for _, m := range models {
		fmt.Fprintf(w, "%s: %.2f%% hit rate, mean accuracy %.3f, %d slashes (%.2f), stake %.2f, weight %.3f\n",
			m.ModelID, m.HitRate*100, m.MeanAccuracy, m.Slashes, m.SlashedStake, m.FinalStake, m.FinalWeight)
	}
}

func (r *Reporter) generateTrajectory() error {
	csvPath := filepath.Join(r.outputPath, trajectoryFile)
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create trajectory file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Model", "Step", "Stake", "Weight"}); err != nil {
		return err
	}
	for _, m := range r.results.SortedModels() {
		for _, p := range m.Trajectory {
			record := []string{
				m.ModelID,
				strconv.Itoa(p.Step),
				fmt.Sprintf("%.4f", p.Stake),
				fmt.Sprintf("%.4f", p.Weight),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}

	log.Info().Str("file", csvPath).Msg("Stake trajectory generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, jsonFile)

	report := map[string]interface{}{
		"results":      r.results,
		"generated_at": time.Now(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// PrintSummary prints a summary to console
func (r *Reporter) PrintSummary() {
	fmt.Println()
	r.writeSummary(os.Stdout)
	fmt.Println("==========================")
}
