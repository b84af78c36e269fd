// Package watcher keeps a document index in sync with directories on disk.
//
// A Watcher reports debounced batches of file events from fsnotify. A Syncer
// applies those batches to the index, and can also index a whole tree up
// front:
//
//	w, err := watcher.New(opts, logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	s := watcher.NewSyncer(ix, opts.Filter(), 4, logger)
//	if _, err := s.IndexTree(ctx, root); err != nil {
//	    return err
//	}
//	go func() { _ = w.Start(ctx, root) }()
//	return s.Run(ctx, w.Events())
package watcher
