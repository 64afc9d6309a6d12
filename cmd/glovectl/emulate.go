package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/gesture"
	"github.com/gwillem/glove/pkg/imu"
	"github.com/gwillem/glove/pkg/session"
)

type EmulateCommand struct {
	Link      string        `long:"link" required:"yes" description:"Serial port for the control channel"`
	Frames    string        `long:"frames" required:"yes" description:"Serial port to stream sensor frames on"`
	Baud      int           `long:"baud" default:"115200" description:"Baud rate for both ports"`
	Addresses []int         `long:"address" default:"80" default:"81" default:"82" default:"83" default:"84" default:"85" description:"IMU bus address to report (repeatable)"`
	Name      string        `long:"name" default:"glove" description:"Bluetooth advertising name"`
	Offline   bool          `long:"offline" description:"Report the bluetooth bridge as not connected"`
	Replay    string        `long:"replay" description:"Collector JSON file whose references are replayed as poses"`
	Period    time.Duration `long:"period" default:"3s" description:"How long each replayed pose is held"`
}

func (c *EmulateCommand) Execute(args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	pose := swayingHand
	if c.Replay != "" {
		pose, err = c.replay()
		if err != nil {
			return err
		}
	}

	portOpts := channel.PortOptions{BaudRate: c.Baud}
	linkPort, err := channel.Open(c.Link, portOpts)
	if err != nil {
		return err
	}
	defer linkPort.Close()
	framePort, err := channel.Open(c.Frames, portOpts)
	if err != nil {
		return err
	}
	defer framePort.Close()

	ch := channel.New(linkPort, channel.WithLogger(log))
	hub := session.NewHub(ch, session.HubConfig{
		Addresses: c.Addresses,
		Rate:      session.PollingRate{Euler: 200, Quaternion: 200},
		Name:      c.Name,
		Connected: !c.Offline,
		Frames:    framePort,
		Pose:      pose,
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Emulating glove %q on %s, frames on %s. Press Ctrl+C to stop.\n", c.Name, c.Link, c.Frames)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ch.Run(ctx) })
	g.Go(func() error { return hub.Serve(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// replay cycles through the references in the collector file.
func (c *EmulateCommand) replay() (func(time.Time) []imu.Sample, error) {
	f, err := os.Open(c.Replay)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	refs, err := gesture.ReadCollection(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Replay, err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%s: no references", c.Replay)
	}
	period := max(c.Period, time.Second)
	start := time.Now()

	return func(t time.Time) []imu.Sample {
		ref := refs[int(t.Sub(start)/period)%len(refs)]
		samples := make([]imu.Sample, 0, imu.NumSensors)
		for _, id := range imu.AllSensors() {
			samples = append(samples, imu.Sample{ID: id, Orientation: ref.Orientation.Get(id)})
		}
		return samples
	}, nil
}

// swayingHand is an open hand turning slowly about the vertical axis.
func swayingHand(t time.Time) []imu.Sample {
	yaw := 0.6 * math.Sin(2*math.Pi*float64(t.UnixMilli()%8000)/8000)
	q := quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}

	samples := make([]imu.Sample, 0, imu.NumSensors)
	for _, id := range imu.AllSensors() {
		samples = append(samples, imu.Sample{ID: id, Orientation: q, Accel: [3]float64{0, 0, 9.8}})
	}
	return samples
}
