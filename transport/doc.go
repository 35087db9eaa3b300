// Package transport implements the UDP data plane for a voice session.
//
// The signalling layer starts a transport once the server has assigned
// an ssrc and a UDP endpoint, uses it to run the IP discovery exchange,
// and finally arms encrypted audio transmission with the session secret
// delivered over the control channel.
//
// The transport fails independently of the control channel: its
// termination is reported through a listener so the supervisor can
// observe either side dying first.
package transport
