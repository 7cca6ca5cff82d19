// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/streamlink/pkg/config"
	"github.com/livekit/streamlink/pkg/fec"
	"github.com/livekit/streamlink/pkg/ice"
	"github.com/livekit/streamlink/pkg/qos"
	"github.com/livekit/streamlink/pkg/service"
	"github.com/livekit/streamlink/pkg/session"
	"github.com/livekit/streamlink/pkg/turn"
	"github.com/livekit/streamlink/pkg/utils"
)

const gatherTimeout = 10 * time.Second

func gatherCandidates(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	gatherer := ice.NewGatherer(ice.GathererParams{
		Config: conf.ICE.Gatherer,
		Logger: logger.GetLogger(),
	})
	defer func() {
		_ = gatherer.Sockets().Close()
	}()

	ctx, cancel := context.WithTimeout(c.Context, gatherTimeout)
	defer cancel()
	candidates, err := gatherer.Gather(ctx)
	if err != nil {
		return errors.Wrap(err, "gather candidates")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Type", "Address", "Priority", "Foundation", "Signaling"})
	for _, candidate := range candidates {
		signaling, err := ice.MarshalCandidate(candidate)
		if err != nil {
			signaling = err.Error()
		}
		table.Append([]string{
			candidate.Kind.String(),
			candidate.Addr().String(),
			strconv.FormatUint(uint64(candidate.Priority), 10),
			candidate.Foundation,
			signaling,
		})
	}
	table.Render()
	return nil
}

func testRelay(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if !conf.IsRelayEnabled() {
		return session.ErrRelayUnavailable
	}

	client, err := turn.NewClient(turn.ClientParams{
		Config: conf.TURN,
		Logger: logger.GetLogger(),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	start := time.Now()
	allocation, err := client.Allocate(c.Context)
	if err != nil {
		return errors.Wrap(err, "allocate relay")
	}

	fmt.Println("TURN server:   ", client.ServerAddr())
	fmt.Println("Relayed address:", allocation.RelayedAddr)
	fmt.Println("Mapped address: ", allocation.MappedAddr)
	fmt.Println("Lifetime:       ", allocation.Lifetime)
	fmt.Println("Allocated in:   ", time.Since(start).Round(time.Millisecond))
	return nil
}

func printPresets(_ *cli.Context) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Mode", "Fps", "Resolution", "Bitrate", "FEC", "Jitter Buffer", "Codec", "Chroma"})

	for _, mode := range qos.Modes {
		p := qos.GetPreset(mode)
		table.Append([]string{
			mode.String(),
			fmt.Sprintf("%d (%d-%d)", p.TargetFps, p.MinFps, p.MaxFps),
			fmt.Sprintf("%s (min %s)", p.TargetResolution, p.MinResolution),
			fmt.Sprintf("%s (%s-%s)", formatKbps(float64(p.TargetBitrateKbps)), formatKbps(float64(p.MinBitrateKbps)), formatKbps(float64(p.MaxBitrateKbps))),
			fmt.Sprintf("%.0f%%-%.0f%%", p.MinFECRatio*100, p.MaxFECRatio*100),
			fmt.Sprintf("%dms", p.JitterBufferMs),
			p.PreferredCodec.String(),
			p.Chroma.String(),
		})
	}
	table.Render()
	return nil
}

func walkDegradation(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	mode, err := getMode(c, conf)
	if err != nil {
		return err
	}
	p := qos.GetPreset(mode)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Step", "Action", "Bitrate", "FEC", "Resolution", "Fps"})

	state := qos.InitialMediaState(p)
	for step := 1; ; step++ {
		action := qos.GetNextDegradationAction(p, state)
		if action != qos.DegradationActionForceIDR {
			state = qos.ApplyDegradationAction(p, state, action)
		}
		table.Append([]string{
			strconv.Itoa(step),
			action.String(),
			formatKbps(float64(state.BitrateKbps)),
			fmt.Sprintf("%.0f%%", state.FECRatio*100),
			state.Resolution.String(),
			strconv.Itoa(state.Fps),
		})
		if action == qos.DegradationActionForceIDR {
			break
		}
	}
	table.Render()
	return nil
}

func simulate(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	mode, err := getMode(c, conf)
	if err != nil {
		return err
	}

	loss := c.Float64("loss")
	if loss < 0 || loss > 1 {
		return errors.New("loss must be between 0 and 1")
	}
	samples := c.Int("samples")
	rtt := c.Duration("rtt")

	encoder := &printingEncoder{}
	p := qos.GetPreset(mode)
	controller := qos.NewController(qos.ControllerParams{
		Config:  conf.QoS,
		Base:    qos.BaseConfigFromPreset(p),
		Encoder: encoder,
		FEC: fec.NewCoder(fec.CoderParams{
			InitialRatio: p.MinFECRatio,
		}),
		Gradient: constantGradient(c.Float64("gradient")),
		Logger:   logger.GetLogger(),
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Sample", "State", "Smoothed Loss", "Bitrate", "Fps", "FEC", "IDR"})

	const packetsPerReport = 1000
	lost := uint32(math.Round(loss * packetsPerReport))
	for i := 1; i <= samples; i++ {
		controller.OnFeedback(qos.FeedbackSample{
			ReceivedCount: packetsPerReport - lost,
			LostCount:     lost,
			LastSequence:  uint32(i * packetsPerReport),
			RTTMicros:     uint32(rtt.Microseconds()),
		})
		stats := controller.GetStats()
		table.Append([]string{
			strconv.Itoa(i),
			stats.State.String(),
			fmt.Sprintf("%.4f", stats.SmoothedLoss),
			formatKbps(stats.CurrentBitrateKbps),
			strconv.Itoa(stats.CurrentFps),
			fmt.Sprintf("%.0f%%", stats.FECRatio*100),
			strconv.FormatUint(stats.IDRRequests, 10),
		})
	}
	table.Render()
	fmt.Printf("encoder reconfigured %d times, %d keyframes requested\n", encoder.reconfigures, encoder.idrs)
	return nil
}

func createUsername(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if conf.TURNServer.Username == "" {
		return service.ErrTURNCredentialsRequired
	}

	sessionID := c.String("session")
	if sessionID == "" {
		sessionID = utils.NewGuid(utils.SessionPrefix)
	}
	handler := service.NewTURNAuthHandler(conf)
	fmt.Println("Session: ", sessionID)
	fmt.Println("Username:", handler.CreateUsername(sessionID))
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}

func getMode(c *cli.Context, conf *config.Config) (qos.Mode, error) {
	if name := c.String("mode"); name != "" {
		return qos.ParseMode(name)
	}
	return conf.GetMode(), nil
}

func formatKbps(kbps float64) string {
	return humanize.SIWithDigits(kbps*1000, 1, "bps")
}

// ------------------------------------------------

type printingEncoder struct {
	reconfigures int
	idrs         int
}

func (e *printingEncoder) Reconfigure(cfg qos.EncoderConfig) {
	e.reconfigures++
	logger.Debugw("encoder reconfigured", "config", cfg)
}

func (e *printingEncoder) ForceIDR() {
	e.idrs++
	logger.Debugw("keyframe requested")
}

type constantGradient float64

func (g constantGradient) GetDelayGradient() float64 {
	return float64(g)
}
