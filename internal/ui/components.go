package ui

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// UploadTarget describes where an upload form posts and which file types it
// accepts.
type UploadTarget struct {
	Title  string
	Action string
	Accept string
}

// Viewer holds what the model viewer page needs to fetch and label a model.
type Viewer struct {
	ID             string
	FileName       string
	CatalogEntryID string
	ViewURL        string
	DownloadURL    string
}

// writeStrings writes each part in order, stopping at the first error.
func writeStrings(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		err := writeStrings(w,
			"<!DOCTYPE html><html lang=\"en\">",
			"<head><meta charset=\"utf-8\">",
			"<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">",
			"<title>", html.EscapeString(title), "</title>",
			// Pico.css via CDN.
			"<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">",
			"<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>",
			"</head>",
			"<body><main class=\"container\">",
		)
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		return writeStrings(w, "</main></body></html>")
	})
}

// UploadForm renders a multipart form that attaches a file to a catalog
// entry. The admin secret field is sent as the X-Admin-Secret header.
func UploadForm(target UploadTarget) templ.Component {
	return Layout("MeshVault - "+target.Title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return writeStrings(w,
			"<section><header><h1>", html.EscapeString(target.Title), "</h1></header>",
			fmt.Sprintf("<form hx-post=\"%s\" hx-encoding=\"multipart/form-data\" hx-target=\"#result\" hx-headers='js:{\"X-Admin-Secret\": document.getElementById(\"secret\").value}'>",
				html.EscapeString(target.Action)),
			"<label for=\"catalogEntryId\">Catalog entry id</label>",
			"<input id=\"catalogEntryId\" name=\"catalogEntryId\" required>",
			"<label for=\"file\">File</label>",
			fmt.Sprintf("<input id=\"file\" name=\"file\" type=\"file\" accept=\"%s\" required>", html.EscapeString(target.Accept)),
			"<label for=\"secret\">Admin secret</label>",
			"<input id=\"secret\" type=\"password\" autocomplete=\"off\">",
			"<button type=\"submit\">Upload</button>",
			"</form><pre id=\"result\"></pre></section>",
		)
	}))
}

// ViewerPage renders a three.js scene that loads the model from its view URL.
func ViewerPage(v Viewer) templ.Component {
	return Layout("MeshVault - "+v.FileName, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return writeStrings(w,
			"<section><header>",
			"<h1>", html.EscapeString(v.FileName), "</h1>",
			"<p>Catalog entry <code>", html.EscapeString(v.CatalogEntryID), "</code> &middot; ",
			fmt.Sprintf("<a href=\"%s\">Download</a></p>", html.EscapeString(v.DownloadURL)),
			"</header>",
			fmt.Sprintf("<div id=\"viewer\" data-src=\"%s\" style=\"width:100%%;height:70vh\"></div>", html.EscapeString(v.ViewURL)),
			"</section>",
			`<script type="importmap">{"imports":{"three":"https://unpkg.com/three@0.160.0/build/three.module.js","three/addons/":"https://unpkg.com/three@0.160.0/examples/jsm/"}}</script>`,
			`<script type="module">
import * as THREE from "three";
import { GLTFLoader } from "three/addons/loaders/GLTFLoader.js";
import { OrbitControls } from "three/addons/controls/OrbitControls.js";

const el = document.getElementById("viewer");
const renderer = new THREE.WebGLRenderer({ antialias: true });
renderer.setSize(el.clientWidth, el.clientHeight);
el.appendChild(renderer.domElement);

const scene = new THREE.Scene();
scene.add(new THREE.HemisphereLight(0xffffff, 0x444444, 3));
const camera = new THREE.PerspectiveCamera(45, el.clientWidth / el.clientHeight, 0.1, 1000);
camera.position.set(2, 2, 4);
const controls = new OrbitControls(camera, renderer.domElement);

new GLTFLoader().load(el.dataset.src, (gltf) => scene.add(gltf.scene));

renderer.setAnimationLoop(() => {
	controls.update();
	renderer.render(scene, camera);
});
</script>`,
		)
	}))
}
