// Command meshpeer is a headless mesh participant: it joins a room through the relay, publishes synthetic
// media to every other member and chats over the peer data channels.
package main

func main() {
	Execute()
}
