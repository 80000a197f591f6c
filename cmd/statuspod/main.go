// Command statuspod runs the pod against host implementations of the
// hardware contracts: the e-paper panel logs its screens, the battery
// voltage comes from the environment and deep sleep is a timed restart of
// the boot path within the same process.
package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statuspod/bus"
	"statuspod/netlink"
	"statuspod/power"
	"statuspod/retained"
	"statuspod/services/app"
	"statuspod/services/audio"
	"statuspod/services/config"
	"statuspod/services/display"
	"statuspod/services/lights"
	"statuspod/services/provision"
	"statuspod/storage/sqlitekv"
	"statuspod/x/clockx"
)

func main() {
	proc, err := config.LoadProcess()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: proc.SlogLevel()}))

	if err := run(proc, log); err != nil {
		log.Error("exit", "err", err)
		os.Exit(1)
	}
}

func run(proc config.Process, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlitekv.Open(proc.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	hc := &http.Client{}
	if proc.InsecureTLS {
		log.Warn("TLS CERTIFICATE VALIDATION DISABLED — lab use only")
		hc.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	b := bus.NewBus(32)
	clock := clockx.System{}
	region := &retained.File{Path: proc.RetainedPath}
	battery := power.NewMonitor(envVolts{v: proc.BatteryVolts}, log)

	if err := display.New(&logPanel{log: log}, log).Start(ctx, b.NewConnection("display")); err != nil {
		return err
	}
	if err := audio.New(&logCodec{log: log}, log).Start(ctx, b.NewConnection("audio")); err != nil {
		return err
	}
	if creds, ok, _ := config.LoadCredentials(store); ok {
		lc := config.LoadLightConfig(store, creds, log)
		driver := lights.NewDriver(lc.Type, lc.Addr, hc)
		if err := lights.New(driver, log).Start(ctx, b.NewConnection("lights")); err != nil {
			return err
		}
	}

	gateway := provision.NewGateway(store, log,
		provision.NewHTTPTransport(proc.ListenAddr, log))
	link := &netlink.Probe{Addr: proc.ProbeAddr}

	// Deep sleep on the host is a timed re-entry into boot with the wake
	// cause carried across, mirroring the RTC-wake path on hardware.
	wake := retained.WakeColdBoot
	for {
		sleeper := &hostSleeper{}
		ctrl := app.New(app.Config{
			Log:          log,
			Clock:        clock,
			Bus:          b,
			Store:        store,
			Region:       region,
			Wake:         wake,
			Link:         link,
			Sleeper:      sleeper,
			Battery:      battery,
			Gateway:      gateway,
			Factories:    app.DefaultFactories(store, clock, hc, log),
			PollOverride: time.Duration(proc.PollInterval) * time.Second,
		})
		if err := ctrl.Run(ctx); err != nil {
			return err
		}

		d, pending := sleeper.pendingDeepSleep()
		if !pending {
			return nil // clean shutdown
		}
		log.Info("deep sleep (host: timed restart)", "for", d)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
		wake = retained.WakeTimer
	}
}
