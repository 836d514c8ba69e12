package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Set         string             `long:"set" description:"Arm set to operate (falls back to LEROBOT_SET, then the configured active set)"`
	Setup       SetupCommand       `command:"setup" description:"Scan for arms, identify them and calibrate an arm set"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start teleoperation (leader-follower control)"`
	Record      RecordCommand      `command:"record" description:"Record teleoperated episodes into a dataset session"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "LeRobot - teleoperation and dataset recording for leader/follower arm sets"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
