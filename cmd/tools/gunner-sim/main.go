// Command gunner-sim simulates a gunner station on the bench: it listens
// for engaged-track snapshots on the track port, prints each one, and
// reports a synthetic station status to the C2 at 1 Hz. Useful for
// exercising the broadcast service without RWS hardware.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/gunner"
)

var (
	stationID  = flag.String("station", "GUNNER_SIM", "Station identifier to report")
	operatorID = flag.String("operator", "sim", "Operator identifier to report")
	trackPort  = flag.Int("track-port", gunner.DefaultTrackPort, "UDP port to listen for track snapshots")
	statusAddr = flag.String("status-addr", "127.0.0.1:5101", "C2 address for status reports")
	autoCue    = flag.Bool("auto-cue", true, "Cue whatever track arrives and report visual lock after 2s")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	rx, err := net.ListenUDP("udp4", &net.UDPAddr{Port: *trackPort})
	if err != nil {
		log.Fatalf("listen track port %d: %v", *trackPort, err)
	}
	defer rx.Close()

	tx, err := net.Dial("udp4", *statusAddr)
	if err != nil {
		log.Fatalf("dial status addr %s: %v", *statusAddr, err)
	}
	defer tx.Close()

	cued := -1
	var cuedSince time.Time

	go func() {
		buf := make([]byte, 8192)
		for {
			n, _, err := rx.ReadFromUDP(buf)
			if err != nil {
				return
			}
			var snap gunner.TracksSnapshot
			if err := json.Unmarshal(buf[:n], &snap); err != nil {
				log.Printf("malformed snapshot: %v", err)
				continue
			}
			for _, tr := range snap.Tracks {
				fmt.Printf("track %d az=%.1f el=%.1f range=%.0fm %s %s (%s)\n",
					tr.TrackID, tr.AzimuthDeg, tr.ElevationDeg, tr.RangeM,
					tr.Priority, tr.RecommendedEffector, tr.RecommendationReason)
				if *autoCue && cued != tr.TrackID {
					cued = tr.TrackID
					cuedSince = time.Now()
					log.Printf("cueing track %d", cued)
				}
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		msg := gunner.StatusMessage{
			StationID:       *stationID,
			CuedTrackID:     cued,
			VisualLock:      cued >= 0 && time.Since(cuedSince) > 2*time.Second,
			ReadyToFire:     cued >= 0 && time.Since(cuedSince) > 4*time.Second,
			SelectedWeapon:  "SIM",
			RoundsRemaining: 200,
			OperatorID:      *operatorID,
			TimestampNanos:  time.Now().UnixNano(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			log.Fatalf("marshal status: %v", err)
		}
		if _, err := tx.Write(data); err != nil {
			log.Printf("send status: %v", err)
		}
	}
}
