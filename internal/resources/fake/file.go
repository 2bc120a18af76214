package fake

import "os"

func readIfFile(p string) ([]byte, error) {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return nil, err
	}

	return os.ReadFile(p)
}
