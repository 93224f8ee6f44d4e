package mock

//go:generate mockgen -package mock -destination blobstore.go github.com/buildbarn/bb-storage/pkg/blobstore BlobAccess
//go:generate mockgen -package mock -destination cas.go github.com/buildbarn/bb-remote-cache/pkg/cas DirectoryFetcher,Store
//go:generate mockgen -package mock -destination clock.go github.com/buildbarn/bb-storage/pkg/clock Clock,Timer
//go:generate mockgen -package mock -destination process.go github.com/buildbarn/bb-remote-cache/pkg/process CommandRunner
//go:generate mockgen -package mock -destination util.go github.com/buildbarn/bb-storage/pkg/util ErrorLogger
