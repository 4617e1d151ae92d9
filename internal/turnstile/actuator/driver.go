// Package actuator owns the gate hardware: the two leaf servos, the
// red/green indicator LEDs, and the character LCD. Operations block for
// the physical travel and settle time and are not safe to call
// concurrently; the controller's single-consumer loop is what guarantees
// one operation at a time.
package actuator

import "context"

// Driver is the hardware boundary the door controller talks to.
//
// Open and Close are idempotent: driving an already-open door open again
// is a no-op at the hardware level. Display is best-effort and degrades
// to a logged no-op when the LCD is absent; it must never fail the
// caller in a way that stops the control loop.
type Driver interface {
	// Open drives both leaves to the open angle, switches the
	// indicator from red to green, and shows the access-granted
	// message with the user's name truncated to the display width.
	Open(ctx context.Context, user string) error

	// Close shows a brief closing message, reverses the leaves, and
	// switches the indicator back to red.
	Close(ctx context.Context) error

	// Display writes two lines to the LCD, truncated to its width.
	Display(line1, line2 string) error

	// Shutdown forces the safe closed position and blanks the display.
	// Called once at process exit, after the control loop has stopped.
	Shutdown()
}
