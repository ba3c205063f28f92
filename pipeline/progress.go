package pipeline

import (
	"strconv"
	"strings"
	"time"
)

// Stage sub-ranges of the 0-100 scale. The gaps (45-60, 90-100) are fixed
// transition steps written by the orchestrator.
const (
	fetchFloor     = 5
	fetchCeil      = 45
	transcodeFloor = 60
	transcodeCeil  = 90
)

// FetchMapper converts downloaded/total byte counters into the 5-45 band.
// It never regresses: when the total is unknown it holds the last value
// rather than guessing.
type FetchMapper struct {
	last int
}

func NewFetchMapper() *FetchMapper {
	return &FetchMapper{last: fetchFloor}
}

func (m *FetchMapper) Map(downloaded, total int64) int {
	if total > 0 {
		pct := fetchFloor + int(float64(downloaded)/float64(total)*(fetchCeil-fetchFloor))
		if pct > fetchCeil {
			pct = fetchCeil
		}
		if pct > m.last {
			m.last = pct
		}
	}
	return m.last
}

// TranscodeMapper estimates progress in the 60-90 band from elapsed wall
// time against an assumed worst-case duration. This is a heuristic, not a
// measurement: the transcode tool gives no reliably parseable signal, so
// the budget stands in for the real duration.
type TranscodeMapper struct {
	budget time.Duration
	last   int
}

func NewTranscodeMapper(budget time.Duration) *TranscodeMapper {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	return &TranscodeMapper{budget: budget, last: transcodeFloor}
}

func (m *TranscodeMapper) Map(elapsed time.Duration) int {
	pct := transcodeFloor + int(elapsed.Seconds()/m.budget.Seconds()*(transcodeCeil-transcodeFloor))
	if pct > transcodeCeil {
		pct = transcodeCeil
	}
	if pct > m.last {
		m.last = pct
	}
	return m.last
}

// ParseProgressLine extracts byte counters from the fetch tool's structured
// progress line, "download:<downloaded>/<total>". Lines in any other shape
// (including a template-substituted "NA" total) report ok=false.
func ParseProgressLine(line string) (downloaded, total int64, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), "download:")
	if !found {
		return 0, 0, false
	}
	dl, tot, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	downloaded, err := strconv.ParseInt(dl, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.ParseInt(tot, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return downloaded, total, true
}
