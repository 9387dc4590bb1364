package pipeline_test

import "github.com/MrWong99/embedkit/pkg/vectorstore"

func storeFilter(collection string) vectorstore.Filter {
	return vectorstore.Filter{Collection: collection}
}
