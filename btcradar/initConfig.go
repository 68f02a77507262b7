package btcradar

import (
	"os"

	"github.com/spf13/viper"
)

// InitConfig sets up our Viper config object
func InitConfig(config *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		LogCLI(err.Error(), 0)
	}
	config.SetDefault("rootDir", homeDir+"/btcradar/")
	config.SetConfigType("yaml")
	config.SetConfigFile(config.GetString("rootDir") + "config.yaml")
	err = config.ReadInConfig()
	if err != nil {
		LogCLI(err.Error(), 4)
	}
	config.SetDefault("firstRun", true)
	config.SetDefault("flatFileDir", "data/")
	config.SetDefault("logLevel", 4)
	config.SetDefault("devMode", false)

	// IMPORTANT: add relays here where participants' profiles are published
	config.SetDefault("relays", []string{
		"wss://relay.damus.io",
		"wss://relay.snort.social",
		"wss://nostr.wine",
		"wss://relay.nostr.band",
		"wss://nostr.mom",
		"wss://relay.noderunners.network",
		"wss://nostr.einundzwanzig.space",
	})

	//the shared event-space tag that scopes our traffic to this application's audience
	config.SetDefault("spaceId", "btcradar-default")

	//the meetup group whose encrypted location feed we follow; empty means plaintext only
	config.SetDefault("groupId", "")

	//position provider (gpsd wire protocol)
	config.SetDefault("gpsdAddr", "127.0.0.1:2947")

	//external signer daemon, tried before the local wallet key
	config.SetDefault("signerAddr", "http://127.0.0.1:17007")

	//the local websocket/HTTP surface consumed by the frontend
	config.SetDefault("websocketAddr", "0.0.0.0:1031")

	//we usually lean towards errors being fatal to cause less damage to state. If this is set to true, we lean towards staying alive instead.
	config.SetDefault("highly_reliable", false)

	// Create our working directory and config file if not exist
	initRootDir(config)
	Touch(config.GetString("rootDir") + "config.yaml")
	err = config.WriteConfig()
	if err != nil {
		LogCLI(err.Error(), 0)
	}
}

func initRootDir(conf *viper.Viper) {
	_, err := os.Stat(conf.GetString("rootDir"))
	if os.IsNotExist(err) {
		err = os.Mkdir(conf.GetString("rootDir"), 0755)
		if err != nil {
			LogCLI(err, 0)
		}
	}
}
