// Package main runs the Davi NFC bridge, which decodes NDEF text records from
// discovered tags and delivers them to WebSocket listeners.
package main

import "github.com/nedpals/davi-nfc-bridge/cmd"

func main() {
	cmd.Execute()
}
