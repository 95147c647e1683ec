// Copyright 2025 Poiesic Systems
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


// Package extract turns PDF files into page-indexed text.
//
// Extraction failures are classified into the core error taxonomy:
// unreadable or malformed files become core.ErrCorruptDocument, password
// protected files become core.ErrEncryptedDocument, and a page scan that
// outlives its budget becomes core.ErrExtractionTimeout. Only transient I/O
// errors and a single timeout are retried.
package extract
