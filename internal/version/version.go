// Package version хранит данные сборки, которые подставляются через -ldflags.
package version

import "fmt"

// Service — имя сервиса в логах, User-Agent и health-ответах.
const Service = "cart-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// String — однострочное описание сборки для логов и флага -version.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent — значение заголовка User-Agent для исходящих запросов.
func UserAgent() string {
	return Service + "/" + version
}
