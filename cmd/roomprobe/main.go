// roomprobe is a debugging companion for the signaling relay: it joins a
// room as a regular peer and prints everything the relay sends as JSON
// lines, optionally contributing a chat message.
package main

func main() {
	Execute()
}
