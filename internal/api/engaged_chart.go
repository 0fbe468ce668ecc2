package api

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleEngagedChart renders a quick HTML line chart of the engaged track's
// tail (range over time) plus its fitted range-rate. Debugging-only: no
// auth, served under /debug/.
func (s *Server) handleEngagedChart(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.Engagement()
	id := st.TrackID
	if v := r.URL.Query().Get("track_id"); v != "" {
		fmt.Sscanf(v, "%d", &id)
	}
	if id == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("api: no engaged track and no track_id given"))
		return
	}

	track, ok := s.engine.TrackByID(id)
	if !ok || len(track.Tail) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("api: track %d has no tail history", id))
		return
	}

	stats, _ := s.engine.TailStats(id)

	t0 := track.Tail[0].Timestamp
	xAxis := make([]string, 0, len(track.Tail))
	ranges := make([]opts.LineData, 0, len(track.Tail))
	azimuths := make([]opts.LineData, 0, len(track.Tail))
	for _, sample := range track.Tail {
		xAxis = append(xAxis, fmt.Sprintf("%.1f", sample.Timestamp.Sub(t0).Seconds()))
		ranges = append(ranges, opts.LineData{Value: sample.RangeM})
		azimuths = append(azimuths, opts.LineData{Value: sample.AzimuthDeg})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("track %d tail (%d samples)", id, stats.Samples),
			Subtitle: fmt.Sprintf("fitted range-rate %.1f m/s, smoothed %.1f m/s, score %.2f",
				stats.FitRateMPS, track.RangeRateMPS, track.ThreatScore),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seconds"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "meters"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("range_m", ranges).
		AddSeries("azimuth_deg", azimuths)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		s.logf("[api] render engaged chart: %v", err)
	}
}
