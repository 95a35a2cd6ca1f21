// Package games holds design notes for games shipped in giftbox.
//
// Gift swap:
// Each participant joins a session with a short code, writes a gift message
// (a title shown to everyone during the reveal, and a body shown only to the
// recipient), and the server draws a secret assignment in which every
// participant gives to exactly one other participant and nobody draws
// themselves.
//
// How to play:
//   - The host creates a session and shares the code (or the QR link)
//   - Everyone joins from their phone and the host starts the writing phase
//   - Once all gifts are in, the host draws the assignment
//   - Gifts are revealed one pair at a time: a roulette animation lands on the
//     recipient, the recipient opens the gift, confetti fires on every screen
//     at the same instant, and the host advances to the next pair
//
// Implementation details:
//   - A single hub goroutine owns all session state; actions arrive over one
//     WebSocket endpoint and are processed strictly in order
//   - Reveal timing travels as data (start timestamp + duration) so clients
//     stay in sync without server-side timers
package games
