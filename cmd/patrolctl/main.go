// Command patrolctl is the operator tool for a Pi-Patrol node: retrain the
// face model, enroll samples, inspect events and test the camera.
package main

func main() {
	Execute()
}
