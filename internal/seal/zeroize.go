package seal

import "runtime"

// Zeroize обнуляет буфер с ключевым материалом.
// KeepAlive не даёт компилятору исключить запись как мёртвую.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
