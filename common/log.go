package common

import (
	"io"
	"os"
	"time"

	"github.com/jefurry/logrus"
	"github.com/jefurry/logrus/hooks/rotatelog"
)

type Klogger struct {
	*logrus.Logger
}

func (k *Klogger) SetOutput(w io.Writer) {
	k.SetOut(w)
}

func (k *Klogger) SetPrefix(p string) {

}

var DefaultLog *Klogger = &Klogger{logrus.New()}
var AgentLog *Klogger = &Klogger{logrus.New()}
var UprobeLog *Klogger = &Klogger{logrus.New()}

var Loggers []*Klogger = []*Klogger{DefaultLog, AgentLog, UprobeLog}
var SetLogToFileFlag = false
var LogDir = "/tmp"

func SetLogToFile() {
	if SetLogToFileFlag {
		return
	}
	SetLogToFileFlag = true
	for _, l := range Loggers {
		l.SetOut(io.Discard)
		hook, err := rotatelog.NewHook(
			LogDir+"/uprobedeploy.log.%Y%m%d",
			rotatelog.WithMaxAge(time.Hour*24*7),
			rotatelog.WithRotationTime(time.Hour*24),
		)
		if err == nil {
			l.Hooks.Add(hook)
		}
	}
}

func SetLogToStdout() {
	SetLogToFileFlag = false
	for _, l := range Loggers {
		l.SetOut(os.Stdout)
	}
}
