package main

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/spf13/viper"
	"github.com/stackerstan/go-nostr"
	"btcradar/btcradar"
	"btcradar/database"
	"btcradar/messaging/bridge"
	"btcradar/messaging/profiles"
	"btcradar/messaging/relayset"
	"btcradar/payments/zaps"
	"btcradar/signer"
	"btcradar/tracking/geo"
	"btcradar/tracking/groups"
	"btcradar/tracking/permission"
	"btcradar/tracking/publisher"
	"btcradar/tracking/roster"
	"btcradar/tracking/watcher"
)

func main() {
	deadlock.Opts.DisableLockOrderDetection = true
	deadlock.Opts.DeadlockTimeout = time.Millisecond * 30000

	// Various aspects of this application require global and local settings. To keep things
	// clean and tidy we put these settings in a Viper configuration.
	conf := viper.New()

	// Now we initialise this configuration with basic settings that are required on startup.
	btcradar.InitConfig(conf)
	// make the config accessible globally
	btcradar.SetConfig(conf)

	// the terminator channel blocks until shutdown, anything requiring a clean shutdown should
	// wait on this channel and clean up when it stops blocking.
	terminator := make(chan struct{})

	// anything requiring a clean shutdown (databases etc) need to either directly or
	// by proxy add to this waitgroup and remove from this waitgroup when they
	// have cleanly shut down. Failure to do this will result in abandoned goroutines at sigterm.
	wg := &sync.WaitGroup{}

	// interrupt: see cliListener
	interrupt := make(chan struct{})
	btcradar.RegisterShutdownChan(interrupt)

	//establish our identity before anything probes permissions or signs events
	wallet := btcradar.MyWallet()
	btcradar.LogCLI("Our account: "+wallet.Account, 4)

	profiles.StartDb(terminator, wg)
	roster.StartDb(terminator, wg)
	groups.StartDb(terminator, wg)

	spaceID := conf.GetString("spaceId")
	relays := relayset.New()
	signerBackend := signer.Default()

	provider := geo.NewGpsd()
	permissions := permission.NewTracker(provider)
	locationPublisher := publisher.New(signerBackend, relays, spaceID)
	locationPublisher.Members = groups.Members
	locationWatcher := watcher.New(provider, permissions, locationPublisher)

	groupService := groups.NewService(signerBackend, relays)
	if err := groupService.Start(); err != nil {
		btcradar.LogCLI(err.Error(), 1)
	}

	subscriber := roster.NewSubscriber(relays, spaceID)
	subscriber.GroupID = conf.GetString("groupId")
	if err := subscriber.Start(); err != nil {
		btcradar.LogCLI(err.Error(), 1)
	}

	zapService := zaps.NewService(signerBackend, relays)
	receiptTeardown := zaps.SubscribeReceipts(relays, spaceID, func(event nostr.Event) {
		btcradar.LogCLI("zap receipt "+event.ID+" witnessed in our space", 4)
	})

	go bridge.New(zapService, locationWatcher, locationPublisher, groupService, spaceID).Start()

	//start sharing if the platform lets us; a refusal is not fatal, the
	//frontend can retry through the bridge once the user sorts permissions out
	if !locationWatcher.Start() {
		btcradar.LogCLI("not watching position yet: "+string(locationWatcher.Status()), 4)
	}

	go cliListener(interrupt, locationWatcher, permissions)

	btcradar.LogCLI("Waiting for terminate signal, press q to quit", 4)
	<-interrupt

	locationWatcher.Stop()
	subscriber.Shutdown()
	groupService.Shutdown()
	receiptTeardown()
	btcradar.MakeOrGetConfig().Set("firstRun", false)
	if err := btcradar.MakeOrGetConfig().WriteConfig(); err != nil {
		btcradar.LogCLI(err.Error(), 3)
	}
	close(terminator)
	wg.Wait()
	database.Backup()
	os.Exit(0)
}
