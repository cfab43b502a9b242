package store

import (
	"sort"
	"time"
)

// Summary holds aggregate statistics over a set of rows.
type Summary struct {
	Count           int       `json:"count"`
	AvgDownloadMbps float64   `json:"avg_download"`
	AvgUploadMbps   float64   `json:"avg_upload"`
	MinDownloadMbps float64   `json:"min_download"`
	MaxDownloadMbps float64   `json:"max_download"`
	AvgPing         float64   `json:"avg_ping"`
	Latest          time.Time `json:"latest,omitempty"`
}

// Summarize computes the mean download and upload rates (Mbps) and the
// range of download rates. The zero Summary is returned for no rows.
func Summarize(rows []Row) Summary {
	var sum Summary
	if len(rows) == 0 {
		return sum
	}

	var down, up, ping float64
	sum.MinDownloadMbps = rows[0].DownloadMbps
	sum.MaxDownloadMbps = rows[0].DownloadMbps
	for _, r := range rows {
		down += r.DownloadMbps
		up += r.UploadMbps
		ping += r.Ping
		if r.DownloadMbps < sum.MinDownloadMbps {
			sum.MinDownloadMbps = r.DownloadMbps
		}
		if r.DownloadMbps > sum.MaxDownloadMbps {
			sum.MaxDownloadMbps = r.DownloadMbps
		}
		if r.RecordedAt.After(sum.Latest) {
			sum.Latest = r.RecordedAt
		}
	}

	n := float64(len(rows))
	sum.Count = len(rows)
	sum.AvgDownloadMbps = down / n
	sum.AvgUploadMbps = up / n
	sum.AvgPing = ping / n
	return sum
}

// NewestFirst returns a copy of rows sorted by RecordedAt, most recent
// first. Rows with equal timestamps keep their file order reversed.
func NewestFirst(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	return out
}
