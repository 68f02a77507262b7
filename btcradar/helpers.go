package btcradar

import "os"

func Touch(path string) error {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
	}
	return nil
}

//Contains checks if a slice contains a string
func Contains(s []string, e string) bool {
	for _, a := range s {
		if a == e {
			return true
		}
	}
	return false
}

//GetRelays returns the fan-out relay list. The list is immutable configuration,
//read concurrently by all publish and subscribe paths without coordination.
func GetRelays() []string {
	return MakeOrGetConfig().GetStringSlice("relays")
}
