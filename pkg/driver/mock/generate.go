package mock

//go:generate go run -v go.uber.org/mock/mockgen -destination=driver.go -package=mock github.com/thesyncim/meetsuite/pkg/driver Driver
