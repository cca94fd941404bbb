/*
 *
 * Copyright 2026 OpenKneeboard authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Command kneeboard-viewer polls the frame hand-off like a consumer would
// and prints what it sees.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/sugawarayuuta/sonnet"
	"google.golang.org/grpc/grpclog"

	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/consumers"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/feeder"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/gpu/shmgpu"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/ipc"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/protocol"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/shm"
	"github.com/OpenKneeboard/OpenKneeboard-sub004/internal/texcache"
)

var logger = grpclog.Component("kneeboard-viewer")

var (
	segment  = flag.String("segment", protocol.SegmentName(), "frame segment name")
	kindName = flag.String("kind", protocol.ConsumerKindViewer.String(), "consumer kind to poll as")
	wait     = flag.Bool("wait", false, "wait for the frame segment to be created")
	copyTex  = flag.Bool("copy", false, "copy textures instead of sampling the producer's")
	interval = flag.Duration("interval", 100*time.Millisecond, "poll interval")
	count    = flag.Int("count", 0, "stop after this many polls; 0 polls until interrupted")
	luid     = flag.Uint64("luid", 0, "only accept frames rendered on this adapter")
	asJSON   = flag.Bool("json", false, "print one JSON object per poll")
	dumpReg  = flag.Bool("consumers", false, "print the ActiveConsumers registry and exit")
)

type layerReport struct {
	Index      int    `json:"index"`
	LayerID    uint64 `json:"layerId"`
	Slot       uint8  `json:"slot"`
	Texture    string `json:"texture"`
	FenceValue uint64 `json:"fenceValue"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	Bytes      int    `json:"bytes"`
	Stamp      uint32 `json:"stamp"`
}

type frameReport struct {
	Time       time.Time      `json:"time"`
	State      string         `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Generation uint64         `json:"generation,omitempty"`
	Session    string         `json:"session,omitempty"`
	FeederPID  uint32         `json:"feederPid,omitempty"`
	Layers     []layerReport  `json:"layers,omitempty"`
	Stats      texcache.Stats `json:"stats"`
}

type consumerReport struct {
	LastSeen       map[string]time.Time `json:"lastSeen"`
	Fresh          []string             `json:"fresh"`
	ElevatedPID    uint32               `json:"elevatedPid,omitempty"`
	NonVRPixelSize protocol.PixelSize   `json:"nonVRPixelSize"`
	ActiveViewID   uint64               `json:"activeViewId"`
}

func main() {
	flag.Parse()

	kind, err := protocol.ParseConsumerKind(*kindName)
	if err != nil {
		logger.Fatalf("-kind: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dumpReg {
		if err := printConsumers(); err != nil {
			logger.Fatalf("Reading ActiveConsumers: %v", err)
		}
		return
	}

	if *wait {
		logger.Infof("Waiting for %s", *segment)
		if err := shm.WaitForSegment(ctx, *segment, *interval); err != nil {
			logger.Fatalf("Waiting for %s: %v", *segment, err)
		}
	}

	opts := []ipc.Option{ipc.WithSegmentName(*segment), ipc.WithAdapterLUID(*luid)}
	reg, err := consumers.Open()
	if err != nil {
		logger.Warningf("Not reporting liveness: %v", err)
	} else {
		defer reg.Close()
		opts = append(opts, ipc.WithRegistry(reg))
	}

	model := gpu.ImportModel
	if *copyTex {
		model = gpu.CopyModel
	}
	reader := ipc.NewCachedReader(kind, shmgpu.New(model), opts...)
	defer reader.Close()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for polls := 0; *count == 0 || polls < *count; polls++ {
		snap := reader.MaybeGet(ctx)
		if err := printSnapshot(snap, reader.Stats()); err != nil {
			logger.Errorf("Printing snapshot: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func report(snap ipc.Snapshot, stats texcache.Stats) frameReport {
	r := frameReport{
		Time:  time.Now(),
		State: snap.State.String(),
		Stats: stats,
	}
	if !snap.Valid() {
		r.Reason = snap.Reason.String()
		return r
	}
	r.Generation = snap.Generation()
	r.Session = snap.SessionID().String()
	r.FeederPID = snap.FeederPID()
	for _, t := range snap.Textures {
		desc := t.Resource.Desc()
		r.Layers = append(r.Layers, layerReport{
			Index:      t.Index,
			LayerID:    t.LayerID,
			Slot:       t.Slot,
			Texture:    fmt.Sprintf("%#x", uint64(t.Texture)),
			FenceValue: t.FenceValue,
			Width:      desc.Width,
			Height:     desc.Height,
			Bytes:      desc.ByteSize(),
			Stamp:      feeder.PatternFrame(t.Resource.Pixels()),
		})
	}
	return r
}

func printSnapshot(snap ipc.Snapshot, stats texcache.Stats) error {
	r := report(snap, stats)
	if *asJSON {
		return printJSON(r)
	}
	if r.Reason != "" {
		fmt.Printf("%s %s (%s)\n", r.Time.Format(time.TimeOnly), r.State, r.Reason)
		return nil
	}
	fmt.Printf("%s %s generation %d session %s pid %d, %d imports, %d fence waits\n",
		r.Time.Format(time.TimeOnly), r.State, r.Generation, r.Session, r.FeederPID, stats.Imports, stats.FenceWaits)
	for _, l := range r.Layers {
		fmt.Printf("  layer %d id %d slot %d texture %s fence %d: %dx%d %s, stamp %d\n",
			l.Index, l.LayerID, l.Slot, l.Texture, l.FenceValue, l.Width, l.Height, units.HumanSize(float64(l.Bytes)), l.Stamp)
	}
	return nil
}

func printConsumers() error {
	reg, err := consumers.Open()
	if err != nil {
		return err
	}
	defer reg.Close()

	rec := reg.Get()
	now := time.Now()
	r := consumerReport{
		LastSeen:       map[string]time.Time{},
		Fresh:          []string{},
		ElevatedPID:    rec.ElevatedConsumerPID(),
		NonVRPixelSize: rec.NonVRPixelSize(),
		ActiveViewID:   rec.ActiveViewID(),
	}
	for _, k := range protocol.AllConsumerKinds {
		ts := rec.LastSeen(k)
		if ts.IsZero() {
			continue
		}
		r.LastSeen[k.String()] = ts
		if consumers.Fresh(ts, now) {
			r.Fresh = append(r.Fresh, k.String())
		}
	}
	if *asJSON {
		return printJSON(r)
	}
	for _, k := range protocol.AllConsumerKinds {
		ts, ok := r.LastSeen[k.String()]
		if !ok {
			fmt.Printf("%-12s never\n", k)
			continue
		}
		fmt.Printf("%-12s %s ago\n", k, units.HumanDuration(now.Sub(ts)))
	}
	fmt.Printf("elevated consumer pid %d, non-VR size %dx%d, active view %d\n",
		r.ElevatedPID, r.NonVRPixelSize.Width, r.NonVRPixelSize.Height, r.ActiveViewID)
	return nil
}

func printJSON(v any) error {
	b, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(b))
	return err
}
