// Command armctl is the wiring shim that connects to a remote servo
// controller, runs the motion player, and optionally exposes the host
// bridge and trajectory telemetry. It carries no control logic of its own;
// every behavior lives in internal/.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/skywa04885/arm-v5/internal/config"
	"github.com/skywa04885/arm-v5/internal/hostbridge"
	"github.com/skywa04885/arm-v5/internal/kinematics"
	"github.com/skywa04885/arm-v5/internal/kinematics/analytical"
	"github.com/skywa04885/arm-v5/internal/kinematics/solve"
	"github.com/skywa04885/arm-v5/internal/logging"
	"github.com/skywa04885/arm-v5/internal/player"
	"github.com/skywa04885/arm-v5/internal/servo"
	"github.com/skywa04885/arm-v5/internal/telemetry"
	"github.com/skywa04885/arm-v5/internal/transport/client"
	"github.com/skywa04885/arm-v5/internal/transport/receiver"
	"github.com/skywa04885/arm-v5/internal/transport/registry"
	"github.com/skywa04885/arm-v5/internal/transport/transmitter"
	"github.com/skywa04885/arm-v5/internal/vecmath"
)

// armParameters describes the five-joint chain this binary drives. The
// spec leaves the concrete geometry to the deployment; these are a
// reasonable default (limbs of 0.2m with a 0.1m last limb; a yaw joint, three
// pitch joints, then a second yaw joint).
func armParameters() kinematics.Parameters {
	return kinematics.Parameters{
		LimbLengths: [5]float64{0.2, 0.2, 0.2, 0.2, 0.1},
		RotationAxes: [5]vecmath.Vector3{
			{Z: 1}, {Y: 1}, {Y: 1}, {Y: 1}, {Z: 1},
		},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := net.Dial("tcp", cfg.ServoAddr)
	if err != nil {
		logger.Error("failed to connect to servo controller", logging.String("address", cfg.ServoAddr), logging.Error(err))
		os.Exit(1)
	}
	defer conn.Close()

	reg := registry.New()
	tx := transmitter.New(conn)
	rx := receiver.New(conn, reg)
	go tx.Run(ctx)
	go rx.Run(ctx)

	c := client.New(tx, reg)
	facade := servo.New(c)

	forward := analytical.Forward{}
	inverse := analytical.Inverse{}
	solver := solve.New(inverse, forward, solve.WithThreshold(cfg.IKThreshold), solve.WithMaxIterations(cfg.IKMaxIterations))

	params := armParameters()
	watch := kinematics.NewStateWatch(kinematics.State{})

	var recorder *telemetry.Recorder
	if cfg.TelemetryDir != "" {
		recorder, err = telemetry.NewRecorder(cfg.TelemetryDir, "armctl", nil)
		if err != nil {
			logger.Error("failed to initialize telemetry recorder", logging.Error(err))
			os.Exit(1)
		}
		defer recorder.Close()
		logger.Info("trajectory telemetry enabled", logging.String("directory", recorder.Directory()))
	}

	p := player.New(facade, solver, params, watch, cfg.StepInterval, recorder)
	go p.Run(ctx)

	if cfg.HostBridgeEnable {
		const hostBridgeMoveSpeed = 0.1 // meters/second
		bridge := hostbridge.NewServer(forward, params, watch, solver, p, hostBridgeMoveSpeed)
		go func() {
			logger.Info("host bridge listening", logging.String("address", cfg.HostBridgeAddr))
			if err := hostbridge.Serve(ctx, cfg.HostBridgeAddr, bridge); err != nil {
				logger.Error("host bridge terminated", logging.Error(err))
			}
		}()
	}

	logger.Info("armctl connected", logging.String("servo_address", cfg.ServoAddr))
	<-ctx.Done()
	logger.Info("armctl shutting down")
}
