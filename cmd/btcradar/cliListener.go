package main

import (
	"fmt"
	"os"
	"time"

	"github.com/eiannone/keyboard"
	"btcradar/btcradar"
	"btcradar/tracking/permission"
	"btcradar/tracking/roster"
	"btcradar/tracking/watcher"
)

// cliListener is a cheap and nasty way to poke at a running instance. It listens for keypresses and executes commands.
func cliListener(interrupt chan struct{}, w *watcher.Watcher, p *permission.Tracker) {
	fmt.Println("Press:\nq: to quit\nr: to print the roster\nl: to print our current position\nw: to print your current wallet\nSee cliListener.go for more")
	for {
		r, k, err := keyboard.GetSingleKey()
		if err != nil {
			panic(err)
		}
		str := string(r)
		switch str {
		default:
			if k == 13 {
				fmt.Println("\n-----------------------------------")
				break
			}
			if r == 0 {
				break
			}
			fmt.Println("Key " + str + " is not bound to anything. See main.cliListener for more details.")
		case "q":
			btcradar.Shutdown()
			go func() {
				btcradar.LogCLI("User requested to terminate", 4)
				//If everything goes well, closing the interrupt channel should shutdown cleanly before terminating.
				time.Sleep(time.Second * 10)
				println("Something didn't shutdown cleanly.")
				os.Exit(0)
			}()
			return //if we do not return here, we cannot ctrl+c in case of errors during shutdown
		case "r":
			for account, entry := range roster.GetAll() {
				fmt.Printf("%s:\n%#v\n", account, entry)
			}
		case "l":
			if sample, ok := w.Current(); ok {
				fmt.Printf("\nPosition: %#v\nStatus: %s\nPermission: %#v\n", sample, w.Status(), p.Cached())
				if median, ok := w.MedianAccuracy(); ok {
					fmt.Printf("Median accuracy: %.1fm\n", median)
				}
			} else {
				fmt.Printf("\nNo fix yet. Status: %s\n", w.Status())
			}
		case "w":
			fmt.Printf("\nWallet:\n%#v\n", btcradar.MyWallet())
		}
	}
}
