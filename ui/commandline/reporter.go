// Package commandline implements the console reporter callback: banners,
// per-epoch metric lines and a batch progress bar, written to a terminal
// (or any io.Writer). It is purely observational and mutates no Trainer
// state.
package commandline

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
)

// ProgressbarStyle to use. Defaults to the ASCII version, which works
// everywhere; consider progressbar.ThemeUnicode on terminals that support
// the graphical symbols.
var ProgressbarStyle = progressbar.ThemeASCII

var (
	bannerStyle      = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor = "#705090"
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Reporter prints the progress of a training run. The per-batch progress
// line is sampled at roughly every quarter of the batch count to avoid
// flooding slow consoles.
type Reporter struct {
	train.CallbackBase

	w      io.Writer
	output *termenv.Output
	bar    *progressbar.ProgressBar

	epochStart time.Time
	epochLR    float64
	samples    int
}

var _ train.Callback = (*Reporter)(nil)

// New creates a Reporter writing to stdout.
func New() *Reporter {
	return &Reporter{
		w:      os.Stdout,
		output: termenv.NewOutput(os.Stdout),
	}
}

// WithWriter redirects the output -- used by tests, or to tee a run into a
// log file. It returns the Reporter itself, so calls can be cascaded.
func (r *Reporter) WithWriter(w io.Writer) *Reporter {
	r.w = w
	r.output = termenv.NewOutput(w)
	return r
}

// OnTrainBegin prints the start banner.
func (r *Reporter) OnTrainBegin(numEpochs int, hist *history.History) error {
	r.samples = 0
	r.output.HideCursor()
	start := r.Trainer().LastEpoch + 1
	fmt.Fprintln(r.w, bannerStyle.Render(
		fmt.Sprintf("Training for %d epochs (starting at epoch %d)", numEpochs, start)))
	return nil
}

// OnEpochBegin starts the epoch clock and the progress line.
func (r *Reporter) OnEpochBegin(epoch int, hist *history.History) error {
	r.epochStart = time.Now()
	r.epochLR = r.Trainer().Optimizer.Groups()[0].LR
	r.bar = progressbar.NewOptions(r.Trainer().NumBatches,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", epoch)),
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
	return nil
}

// OnBatchBegin counts samples for the final summary.
func (r *Reporter) OnBatchBegin(epoch, batch, batchSize int) error {
	r.samples += batchSize
	return nil
}

// OnBatchEnd advances the progress line at every quarter of the epoch.
func (r *Reporter) OnBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	numBatches := r.Trainer().NumBatches
	if numBatches < 4 || (batch+1)%(numBatches/4) == 0 {
		_ = r.bar.Set(batch + 1)
	}
	return nil
}

// OnEpochEnd replaces the progress line with the epoch summary: timing,
// learning rate, and the latest value of every tracked metric in both
// phases, starred when it is the best (smallest) of its series so far.
func (r *Reporter) OnEpochEnd(epoch int, hist *history.History) error {
	_ = r.bar.Clear()
	elapsed := time.Since(r.epochStart)
	fmt.Fprintf(r.w, "%4d (lr %.2e) %6.1fs  T:", epoch, r.epochLR, elapsed.Seconds())
	r.printPhase(hist.Train)
	if r.Trainer().HasValidation() {
		fmt.Fprintf(r.w, "  V:")
		r.printPhase(hist.Valid)
	}
	fmt.Fprintln(r.w)
	return nil
}

func (r *Reporter) printPhase(phase *history.Phase) {
	for _, name := range phase.Names() {
		latest := phase.Latest(name)
		if latest == nil {
			continue
		}
		marker := " "
		if phase.ArgMin(name) == phase.Len(name)-1 {
			marker = "*"
		}
		fmt.Fprintf(r.w, " %.5f%s", *latest, marker)
	}
}

// OnTrainEnd prints the stop banner and a summary table.
func (r *Reporter) OnTrainEnd(numEpochs int, hist *history.History) error {
	r.output.ShowCursor()
	fmt.Fprintln(r.w, bannerStyle.Render(
		fmt.Sprintf("Stopped at epoch %d", r.Trainer().LastEpoch)))

	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style { return tableCellStyle })
	table.Row("Epochs run", fmt.Sprintf("%d", r.Trainer().LastEpoch))
	table.Row("Samples seen", humanize.Comma(int64(r.samples)))
	r.summaryRow(table, "Best train loss", hist.Train)
	if r.Trainer().HasValidation() {
		r.summaryRow(table, "Best valid loss", hist.Valid)
	}
	fmt.Fprintln(r.w, table.String())
	return nil
}

func (r *Reporter) summaryRow(table *lgtable.Table, title string, phase *history.Phase) {
	best := phase.ArgMin(history.Losses)
	if best < 0 {
		return
	}
	value := phase.Series(history.Losses)[best]
	table.Row(title, fmt.Sprintf("%.5f (epoch %d)", *value, best+1))
}
