// Copyright (c) 2022 The reactor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ipfilter is a hot-reloadable IP allow-list consulted by the
// reactor Acceptor before handing an accepted connection to the server.
// Disabled (every address allowed) unless a list file enables it.
package ipfilter

import (
	"io/ioutil"
	"path"

	"github.com/cornelk/hashmap"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cf-sky/reactor/pkg/logging"
)

// Filter is the live allow-list, safe for concurrent reads from the accept
// path and writes from the fsnotify watcher goroutine.
var Filter allowList

type allowList struct {
	enable bool
	hashmap.HashMap
}

// Allow reports whether ip may proceed to TcpServer.newConnection. When the
// filter is disabled every address is allowed.
func (a *allowList) Allow(ip string) bool {
	if !a.enable {
		return true
	}
	_, ok := a.Get(ip)
	return ok
}

func (a *allowList) insert(ip string) {
	a.HashMap.GetOrInsert(ip, struct{}{})
}

type listFile struct {
	Enable bool     `yaml:"enable"`
	IPList []string `yaml:"ip_allow_list"`
}

// Watcher watches a single YAML allow-list file for changes and keeps
// Filter in sync.
type Watcher struct {
	dir  string
	name string
}

// Start loads confName once from confDir and then watches confDir for
// writes/renames of that file, reloading it on every change.
func Start(confDir, confName string) error {
	w := &Watcher{
		dir:  confDir,
		name: path.Join(confDir, confName),
	}
	if err := w.reload(); err != nil {
		return err
	}
	return w.watch()
}

func (w *Watcher) watch() error {
	watch, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Errorf("ipfilter: new watcher err=%s", err)
		return err
	}
	if err := watch.Add(w.dir); err != nil {
		logging.Errorf("ipfilter: watch dir err=%s", err)
		return err
	}
	go func() {
		for {
			select {
			case ev := <-watch.Events:
				if ev.Name != w.name {
					continue
				}
				switch {
				case ev.Op&fsnotify.Write == fsnotify.Write:
					fallthrough
				case ev.Op&fsnotify.Rename == fsnotify.Rename:
					if err := w.reload(); err != nil {
						logging.Errorf("ipfilter: reload err: %s", err)
					}
				}
			case err := <-watch.Errors:
				logging.Errorf("ipfilter: watcher err=%s", err)
				return
			}
		}
	}()
	return nil
}

func (w *Watcher) reload() error {
	file, err := ioutil.ReadFile(w.name)
	if err != nil {
		return errors.Wrapf(err, "failed to read file from %s", w.name)
	}
	var lf listFile
	if err := yaml.Unmarshal(file, &lf); err != nil {
		return errors.Wrapf(err, "failed to unmarshal config from %s", w.name)
	}

	Filter.enable = lf.Enable
	if !Filter.enable {
		return nil
	}
	for _, ip := range lf.IPList {
		Filter.insert(ip)
	}
	return nil
}
